package models

import (
	"reflect"
	"testing"
)

const (
	drvOpenSSL = BuildUnit("/nix/store/00000000000000000000000000000000-openssl-3.0.7.drv")
	drvFoo     = BuildUnit("/nix/store/11111111111111111111111111111111-foo.drv")
	drvFooBar  = BuildUnit("/nix/store/22222222222222222222222222222222-foo-bar.drv")
	drvOther   = BuildUnit("/nix/store/33333333333333333333333333333333-other-1.0.drv")
)

func TestArtifactLocationOwner(t *testing.T) {
	units := []BuildUnit{drvOpenSSL, drvFoo, drvFooBar}

	tests := []struct {
		loc   ArtifactLocation
		owner BuildUnit
		ok    bool
	}{
		{"/nix/store/44444444444444444444444444444444-openssl-3.0.7", drvOpenSSL, true},
		{"/nix/store/55555555555555555555555555555555-openssl-3.0.7-dev", drvOpenSSL, true},
		{"/nix/store/66666666666666666666666666666666-foo-bar", drvFooBar, true},
		{"/nix/store/77777777777777777777777777777777-foo-bar-man", drvFooBar, true},
		{"/nix/store/88888888888888888888888888888888-foo-1.0", "", false},
		{"/nix/store/99999999999999999999999999999999-zlib-1.3", "", false},
	}

	for _, tt := range tests {
		owner, ok := tt.loc.Owner(units)
		if ok != tt.ok || owner != tt.owner {
			t.Errorf("Owner(%s) = %q, %v; want %q, %v", tt.loc.Name(), owner, ok, tt.owner, tt.ok)
		}
	}
}

func TestDryRunReportPendingUnits(t *testing.T) {
	report := &DryRunReport{
		ToBuild: []BuildUnit{drvOther, "/nix/store/aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa-dep-2.0.drv"},
		ToFetch: []ArtifactLocation{
			"/nix/store/44444444444444444444444444444444-openssl-3.0.7",
			"/nix/store/55555555555555555555555555555555-openssl-3.0.7-dev",
			"/nix/store/99999999999999999999999999999999-zlib-1.3",
		},
	}

	pending, unowned := report.PendingUnits([]BuildUnit{drvOpenSSL, drvOther, drvFoo})

	if want := []BuildUnit{drvOther, drvOpenSSL}; !reflect.DeepEqual(pending, want) {
		t.Errorf("pending = %v, want %v", pending, want)
	}
	if want := []ArtifactLocation{"/nix/store/99999999999999999999999999999999-zlib-1.3"}; !reflect.DeepEqual(unowned, want) {
		t.Errorf("unowned = %v, want %v", unowned, want)
	}
	for _, u := range pending {
		if !IsStorePath("/nix/store", string(u)) || u.Name() == "" || string(u)[len(u)-4:] != ".drv" {
			t.Errorf("pending entry %q is not a derivation", u)
		}
	}
}
