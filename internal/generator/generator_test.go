package generator

import (
	"testing"

	"swarmcore.io/swarm/internal/domain"
)

func testSession(final map[string]interface{}) *domain.Session {
	return &domain.Session{
		ID:        "sess-1",
		TenantID:  "tenant-1",
		ProjectID: "proj-1",
		FinalSpec: final,
	}
}

func validSpec() map[string]interface{} {
	return map[string]interface{}{
		"title":      "Todo app",
		"summary":    "A small todo app",
		"features":   []interface{}{"auth", "create todo", "list todos"},
		"acceptance": []interface{}{"users can sign in", "users can create a todo", "users can list todos"},
	}
}

func TestCompileProducesExpectedDAGShape(t *testing.T) {
	tickets, err := Compile(testSession(validSpec()))
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	// 3 features + verification + packaging + epic
	if len(tickets) != 6 {
		t.Fatalf("len(tickets) = %d, want 6", len(tickets))
	}

	var epic, verification, packaging *domain.Ticket
	features := 0
	for _, tk := range tickets {
		switch {
		case tk.Priority == PriorityEpic:
			epic = tk
		case tk.Priority == priorityVerification:
			verification = tk
		case tk.Priority == priorityPackaging:
			packaging = tk
		case tk.Priority == priorityFeature:
			features++
		}
		if tk.State != domain.TicketDraft {
			t.Errorf("ticket %q state = %s, want draft", tk.Title, tk.State)
		}
		if tk.TenantID != "tenant-1" || tk.ProjectID != "proj-1" || tk.SessionID != "sess-1" {
			t.Errorf("ticket %q missing tenant/project/session scoping: %+v", tk.Title, tk)
		}
	}
	if features != 3 {
		t.Errorf("feature ticket count = %d, want 3", features)
	}
	if verification == nil || packaging == nil || epic == nil {
		t.Fatalf("missing one of epic/verification/packaging: epic=%v verification=%v packaging=%v", epic, verification, packaging)
	}
	if len(verification.Dependencies) != 3 {
		t.Errorf("verification deps = %v, want 3 feature tickets", verification.Dependencies)
	}
	if len(packaging.Dependencies) != 1 || packaging.Dependencies[0] != verification.ID {
		t.Errorf("packaging deps = %v, want [%s]", packaging.Dependencies, verification.ID)
	}
	// epic depends only on the one true leaf: packaging.
	if len(epic.Dependencies) != 1 || epic.Dependencies[0] != packaging.ID {
		t.Errorf("epic deps = %v, want [%s]", epic.Dependencies, packaging.ID)
	}
}

func TestCompileAssignsAcceptanceOneToOne(t *testing.T) {
	tickets, err := Compile(testSession(validSpec()))
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	for _, tk := range tickets {
		if tk.Priority != priorityFeature {
			continue
		}
		if len(tk.AcceptanceCriteria) != 1 {
			t.Errorf("feature ticket %q acceptance = %+v, want exactly 1 (1:1 pairing)", tk.Title, tk.AcceptanceCriteria)
		}
	}
}

func TestCompileSharesAcceptanceWhenCountsMismatch(t *testing.T) {
	spec := validSpec()
	spec["acceptance"] = []interface{}{"only one acceptance line"}
	tickets, err := Compile(testSession(spec))
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	for _, tk := range tickets {
		if tk.Priority != priorityFeature {
			continue
		}
		if len(tk.AcceptanceCriteria) != 1 || tk.AcceptanceCriteria[0].Text != "only one acceptance line" {
			t.Errorf("feature ticket %q acceptance = %+v, want shared singleton list", tk.Title, tk.AcceptanceCriteria)
		}
	}
}

func TestCompileRejectsSpecWithNoFeatures(t *testing.T) {
	spec := validSpec()
	spec["features"] = []interface{}{}
	if _, err := Compile(testSession(spec)); err == nil {
		t.Fatal("expected error for spec with no features")
	}
}

func TestDetectCycleOnAcyclicGraph(t *testing.T) {
	a := &domain.Ticket{ID: "a"}
	b := &domain.Ticket{ID: "b", Dependencies: []string{"a"}}
	c := &domain.Ticket{ID: "c", Dependencies: []string{"b"}}
	if cycle := detectCycle([]*domain.Ticket{a, b, c}); cycle != "" {
		t.Errorf("detectCycle() = %q, want no cycle", cycle)
	}
}

func TestDetectCycleFindsDirectCycle(t *testing.T) {
	a := &domain.Ticket{ID: "a", Dependencies: []string{"b"}}
	b := &domain.Ticket{ID: "b", Dependencies: []string{"a"}}
	if cycle := detectCycle([]*domain.Ticket{a, b}); cycle == "" {
		t.Error("detectCycle() = \"\", want a cycle to be reported")
	}
}

func TestDetectCycleFindsIndirectCycle(t *testing.T) {
	a := &domain.Ticket{ID: "a", Dependencies: []string{"c"}}
	b := &domain.Ticket{ID: "b", Dependencies: []string{"a"}}
	c := &domain.Ticket{ID: "c", Dependencies: []string{"b"}}
	if cycle := detectCycle([]*domain.Ticket{a, b, c}); cycle == "" {
		t.Error("detectCycle() = \"\", want a cycle to be reported")
	}
}

func TestLeavesReturnsOnlyUnreferencedTickets(t *testing.T) {
	a := &domain.Ticket{ID: "a"}
	b := &domain.Ticket{ID: "b", Dependencies: []string{"a"}}
	c := &domain.Ticket{ID: "c", Dependencies: []string{"a"}}
	got := leaves([]*domain.Ticket{a, b, c})
	if len(got) != 2 {
		t.Fatalf("leaves() = %v, want 2 entries (b and c)", got)
	}
}
