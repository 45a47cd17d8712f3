package models

import "testing"

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestSettingsPatch_Apply(t *testing.T) {
	tenant := Tenant{
		TenantID:          "guild-1",
		Name:              "Original",
		GreetingTemplate:  "hello {{.Name}}",
		GreetNewContacts:  true,
		SendClosingNotice: true,
	}

	tenant.Apply(SettingsPatch{
		Name:             strPtr("Renamed"),
		GreetNewContacts: boolPtr(false),
	})

	if tenant.Name != "Renamed" {
		t.Errorf("expected name Renamed, got %s", tenant.Name)
	}
	if tenant.GreetNewContacts {
		t.Error("expected greet flag cleared")
	}
	// Unspecified fields keep their prior values.
	if tenant.GreetingTemplate != "hello {{.Name}}" {
		t.Errorf("greeting template changed unexpectedly: %s", tenant.GreetingTemplate)
	}
	if !tenant.SendClosingNotice {
		t.Error("closing-notice flag changed unexpectedly")
	}
}

func TestSettingsPatch_ApplyEmpty(t *testing.T) {
	tenant := Tenant{TenantID: "guild-1", Name: "Original", GreetNewContacts: true}
	tenant.Apply(SettingsPatch{})

	if tenant.Name != "Original" || !tenant.GreetNewContacts {
		t.Errorf("empty patch must not change anything: %+v", tenant)
	}
}

func TestSettingsPatch_ApplyClearsToEmpty(t *testing.T) {
	tenant := Tenant{TenantID: "guild-1", ClosingTemplate: "bye"}
	tenant.Apply(SettingsPatch{ClosingTemplate: strPtr("")})

	if tenant.ClosingTemplate != "" {
		t.Errorf("expected closing template cleared, got %q", tenant.ClosingTemplate)
	}
}
