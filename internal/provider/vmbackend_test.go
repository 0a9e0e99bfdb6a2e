package provider

import "testing"

func TestEncodeDecodeVMIDRoundTrip(t *testing.T) {
	id := encodeVMID("cluster-a", "swarm-agents", "swarm-job-abc123")
	cluster, namespace, name, err := decodeVMID(id)
	if err != nil {
		t.Fatalf("decodeVMID(%q) error: %v", id, err)
	}
	if cluster != "cluster-a" || namespace != "swarm-agents" || name != "swarm-job-abc123" {
		t.Fatalf("decodeVMID(%q) = (%q, %q, %q), want (cluster-a, swarm-agents, swarm-job-abc123)", id, cluster, namespace, name)
	}
}

func TestDecodeVMIDRejectsMalformed(t *testing.T) {
	if _, _, _, err := decodeVMID("not-enough-parts"); err == nil {
		t.Fatal("decodeVMID() should reject an id with fewer than 3 parts")
	}
}

func TestVMNameForTicketIsLowercasedAndDashed(t *testing.T) {
	got := vmNameForTicket("TCK_Abc_123")
	want := "swarm-job-tck-abc-123"
	if got != want {
		t.Fatalf("vmNameForTicket() = %q, want %q", got, want)
	}
}
