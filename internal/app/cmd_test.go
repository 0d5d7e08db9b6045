package app

import (
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args []string
		want Command
	}{
		{nil, CommandServe},
		{[]string{"serve"}, CommandServe},
		{[]string{"worker"}, CommandWorker},
		{[]string{"migrate", "down"}, CommandMigrate},
		{[]string{"healthcheck"}, CommandHealthcheck},
		{[]string{"unknown"}, CommandServe},
		{[]string{"worker", "--flag", "value"}, CommandWorker},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.args); got != tt.want {
			t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestParseMigrateArgs(t *testing.T) {
	tests := []struct {
		args    []string
		want    MigrateAction
		wantErr bool
	}{
		{nil, MigrateAction{Name: "up"}, false},
		{[]string{"up"}, MigrateAction{Name: "up"}, false},
		{[]string{"version"}, MigrateAction{Name: "version"}, false},
		{[]string{"down"}, MigrateAction{Name: "down", Steps: 1}, false},
		{[]string{"down", "3"}, MigrateAction{Name: "down", Steps: 3}, false},
		{[]string{"down", "0"}, MigrateAction{}, true},
		{[]string{"down", "all"}, MigrateAction{}, true},
		{[]string{"up", "2"}, MigrateAction{}, true},
		{[]string{"reset"}, MigrateAction{}, true},
	}
	for _, tt := range tests {
		got, err := ParseMigrateArgs(tt.args)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMigrateArgs(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMigrateArgs(%v) = %+v, want %+v", tt.args, got, tt.want)
		}
	}
}
