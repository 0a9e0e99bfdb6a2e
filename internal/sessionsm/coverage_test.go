package sessionsm

import "testing"

func TestDeepMergeKeepsPriorKeys(t *testing.T) {
	dst := map[string]interface{}{
		"tech_stack": map[string]interface{}{"language": "go"},
		"scale":      map[string]interface{}{"expected_users": "1000"},
	}
	src := map[string]interface{}{
		"tech_stack": map[string]interface{}{"framework": "gin"},
	}

	out := deepMerge(dst, src)

	stack, ok := out["tech_stack"].(map[string]interface{})
	if !ok {
		t.Fatalf("tech_stack = %v, want map", out["tech_stack"])
	}
	if stack["language"] != "go" {
		t.Errorf("tech_stack.language = %v, want go (lost on merge)", stack["language"])
	}
	if stack["framework"] != "gin" {
		t.Errorf("tech_stack.framework = %v, want gin", stack["framework"])
	}
	if _, ok := out["scale"]; !ok {
		t.Errorf("scale category dropped by merge")
	}

	// dst must not be mutated.
	if _, ok := dst["tech_stack"].(map[string]interface{})["framework"]; ok {
		t.Errorf("deepMerge mutated its dst argument")
	}
}

func TestComputeProgressWeightsByCategory(t *testing.T) {
	gathered := map[string]interface{}{
		"project_type": map[string]interface{}{"type": "web app", "domain": "fintech"},
		"tech_stack":   map[string]interface{}{"language": "go"},
	}

	got := computeProgress(gathered)
	// project_type fully filled (weight 20) + tech_stack 1/4 filled (25 * 0.25 = 6.25)
	want := 26
	if got != want {
		t.Errorf("computeProgress() = %d, want %d", got, want)
	}
}

func TestComputeProgressEmptyIsZero(t *testing.T) {
	if got := computeProgress(map[string]interface{}{}); got != 0 {
		t.Errorf("computeProgress(empty) = %d, want 0", got)
	}
}

func TestComputeProgressFullCoverageIsHundred(t *testing.T) {
	gathered := map[string]interface{}{
		"project_type": map[string]interface{}{"type": "x", "domain": "x"},
		"tech_stack":   map[string]interface{}{"language": "x", "framework": "x", "database": "x", "deployment_target": "x"},
		"scale":        map[string]interface{}{"expected_users": "x", "request_volume": "x"},
		"features":     map[string]interface{}{"core_features": "x", "integrations": "x"},
		"constraints":  map[string]interface{}{"budget": "x", "timeline": "x", "compliance": "x"},
	}
	if got := computeProgress(gathered); got != 100 {
		t.Errorf("computeProgress(full) = %d, want 100", got)
	}
}

func TestParseClarificationReply(t *testing.T) {
	reply, err := parseClarificationReply(`{"message":"what language?","gathered":{"tech_stack":{"language":"go"}},"progress":10,"ready_for_spec":false,"next_category":"tech_stack"}`)
	if err != nil {
		t.Fatalf("parseClarificationReply() error = %v", err)
	}
	if reply.Message != "what language?" || reply.NextCategory != "tech_stack" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestParseClarificationReplyMalformed(t *testing.T) {
	if _, err := parseClarificationReply("not json"); err == nil {
		t.Fatal("expected parse error for malformed reply")
	}
}
