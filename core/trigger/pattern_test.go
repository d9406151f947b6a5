package trigger

import (
	"reflect"
	"testing"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "literal only", raw: "users"},
		{name: "single param", raw: "users/{userId}"},
		{name: "nested params", raw: "schools/{schoolId}/subjects/{subjectId}/exams/{examId}"},
		{name: "empty pattern", raw: "", wantErr: true},
		{name: "empty segment", raw: "users//x", wantErr: true},
		{name: "trailing slash", raw: "users/", wantErr: true},
		{name: "unnamed param", raw: "users/{}", wantErr: true},
		{name: "malformed segment", raw: "users/{userId", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Errorf("Compile(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}

func TestPattern_Match(t *testing.T) {
	tests := []struct {
		name       string
		pattern    string
		path       string
		wantParams Params
		wantOK     bool
	}{
		{
			name:       "user write",
			pattern:    "users/{userId}",
			path:       "users/u1",
			wantParams: Params{"userId": "u1"},
			wantOK:     true,
		},
		{
			name:    "result write",
			pattern: "schools/{schoolId}/subjects/{subjectId}/exams/{examId}/examResults/{studentId}",
			path:    "schools/s1/subjects/sub1/exams/e1/examResults/st1",
			wantParams: Params{
				"schoolId":  "s1",
				"subjectId": "sub1",
				"examId":    "e1",
				"studentId": "st1",
			},
			wantOK: true,
		},
		{
			name:    "shorter path does not match",
			pattern: "schools/{schoolId}/subjects/{subjectId}/exams/{examId}",
			path:    "schools/s1/subjects/sub1",
		},
		{
			name:    "longer path does not match",
			pattern: "schools/{schoolId}/subjects/{subjectId}",
			path:    "schools/s1/subjects/sub1/exams/e1",
		},
		{
			name:    "literal mismatch",
			pattern: "schools/{schoolId}/subjects/{subjectId}",
			path:    "schools/s1/batches/b1",
		},
		{
			name:    "empty segment in path",
			pattern: "users/{userId}",
			path:    "users/",
		},
		{
			name:       "param values never span segments",
			pattern:    "users/{userId}",
			path:       "users/u1/x",
			wantParams: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, ok := MustCompile(tt.pattern).Match(tt.path)
			if ok != tt.wantOK {
				t.Errorf("Match(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			}
			if tt.wantOK && !reflect.DeepEqual(params, tt.wantParams) {
				t.Errorf("Match(%q) params = %v, want %v", tt.path, params, tt.wantParams)
			}
		})
	}
}
