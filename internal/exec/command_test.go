package exec

import "testing"

func TestFlagsHas(t *testing.T) {
	cmd := Command{Name: "FLUSHALL", Flags: FlagGlobal | FlagSelfLocking}
	if !cmd.Has(FlagGlobal) {
		t.Fatalf("expected FlagGlobal to be set")
	}
	if !cmd.Has(FlagSelfLocking) {
		t.Fatalf("expected FlagSelfLocking to be set")
	}
	if cmd.Has(FlagAdmin) {
		t.Fatalf("expected FlagAdmin to be unset")
	}
	if cmd.Has(FlagNone) {
		t.Fatalf("FlagNone should never report as set via Has, since it is the zero value")
	}
}
