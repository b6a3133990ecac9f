package consensus

import "testing"

func TestSubsidyHalvesOnSchedule(t *testing.T) {
	if got := Subsidy(0); got != InitialSubsidy {
		t.Fatalf("expected initial subsidy at height 0, got %d", got)
	}
	if got := Subsidy(HalvingInterval); got != InitialSubsidy/2 {
		t.Fatalf("expected halved subsidy at first halving, got %d", got)
	}
	if got := Subsidy(HalvingInterval * 2); got != InitialSubsidy/4 {
		t.Fatalf("expected quartered subsidy at second halving, got %d", got)
	}
}

func TestSubsidyEventuallyReachesZero(t *testing.T) {
	if got := Subsidy(HalvingInterval * 64); got != 0 {
		t.Fatalf("expected zero subsidy at 64 halvings, got %d", got)
	}
}
