package validation

import (
	"strings"
	"testing"
)

type signupForm struct {
	Name            string `form:"name" validate:"required,min=2"`
	Email           string `form:"email" validate:"required,email"`
	Password        string `form:"password" validate:"required,min=8"`
	ConfirmPassword string `form:"confirm_password" validate:"required,eqfield=Password"`
	Terms           bool   `form:"terms" validate:"required"`
}

func TestStruct_Valid(t *testing.T) {
	f := signupForm{Name: "Al", Email: "a@b.com", Password: "password1", ConfirmPassword: "password1", Terms: true}
	if errs := Struct(f); errs != nil {
		t.Errorf("Struct() = %v, want nil", errs)
	}
}

func TestStruct_Messages(t *testing.T) {
	f := signupForm{Name: "A", Email: "nope", Password: "short", ConfirmPassword: "other"}
	errs := Struct(f)

	want := map[string]string{
		"name":             "Name must be at least 2 characters.",
		"email":            "Please enter a valid email address.",
		"password":         "Password must be at least 8 characters.",
		"confirm_password": "Passwords do not match.",
		"terms":            "You must accept the Terms.",
	}
	for field, msg := range want {
		if errs[field] != msg {
			t.Errorf("errs[%q] = %q, want %q", field, errs[field], msg)
		}
	}
}

func TestFieldErrors_ErrorAndFirst(t *testing.T) {
	errs := FieldErrors{"topic": "Topic is required.", "style": "Style must be at most 100 characters."}
	if got := errs.First(); got != "Style must be at most 100 characters." {
		t.Errorf("First() = %q", got)
	}
	if !strings.Contains(errs.Error(), "Topic is required.") {
		t.Errorf("Error() = %q", errs.Error())
	}
	if (FieldErrors{}).First() != "" {
		t.Error("First() of empty errors should be empty")
	}
}

func TestHumanize(t *testing.T) {
	if got := humanize("confirm_password"); got != "Confirm password" {
		t.Errorf("humanize() = %q", got)
	}
}
