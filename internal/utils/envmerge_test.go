package utils

import (
	"testing"
)

func TestMergeEnv(t *testing.T) {
	tests := []struct {
		name   string
		inputs []map[string]string
		want   []string
	}{
		{
			name: "single map",
			inputs: []map[string]string{
				{"PGHOST": "db.internal", "PGPORT": "5432"},
			},
			want: []string{"PGHOST=db.internal", "PGPORT=5432"},
		},
		{
			name: "merge two maps - override wins",
			inputs: []map[string]string{
				{"PGHOST": "db.internal", "PGSSLMODE": "require", "AWS_REGION": "us-west-2"},
				{"PGHOST": "replica.internal", "PGUSER": "app"},
			},
			want: []string{
				"AWS_REGION=us-west-2",
				"PGHOST=replica.internal",
				"PGSSLMODE=require",
				"PGUSER=app",
			},
		},
		{
			name:   "empty maps",
			inputs: []map[string]string{},
			want:   nil,
		},
		{
			name: "nil map ignored",
			inputs: []map[string]string{
				nil,
				{"AWS_REGION": "us-east-1"},
			},
			want: []string{"AWS_REGION=us-east-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeEnv(tt.inputs...)

			if len(got) != len(tt.want) {
				t.Fatalf("MergeEnv() returned %d entries, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("MergeEnv()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
