package ai

import (
	"errors"
	"testing"
)

func TestUnmarshalFlexible_ObjectVariants(t *testing.T) {
	type person struct {
		Name string `json:"name"`
		Age  int    `json:"age,omitempty"`
	}

	tests := []struct {
		name  string
		input string
		want  person
	}{
		{
			name:  "valid json object",
			input: `{"name":"John"}`,
			want:  person{Name: "John"},
		},
		{
			name:  "unquoted key and single quotes",
			input: `{name: 'John'}`,
			want:  person{Name: "John"},
		},
		{
			name:  "trailing comma",
			input: `{"name":"John",}`,
			want:  person{Name: "John"},
		},
		{
			name:  "missing endbracket",
			input: `{"name":"John`,
			want:  person{Name: "John"},
		},
		{
			name:  "stringified invalid json object",
			input: `"{name: 'John'}"`,
			want:  person{Name: "John"},
		},
		{
			name:  "duplicate leading brace",
			input: "{\n{\n  \"name\": \"John\"\n}\n",
			want:  person{Name: "John"},
		},
		{
			name:  "duplicate leading brace no newlines",
			input: `{ { "name": "John" }`,
			want:  person{Name: "John"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got person
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if got.Name != tc.want.Name || got.Age != tc.want.Age {
				t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestUnmarshalFlexible_ArrayVariants(t *testing.T) {
	type person struct {
		Name string `json:"name"`
		Age  int    `json:"age,omitempty"`
	}

	input := `[{name:'A'},{name:'B',}]`
	var got []person
	if err := UnmarshalFlexible(input, &got); err != nil {
		t.Fatalf("UnmarshalFlexible() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "A" || got[1].Name != "B" {
		t.Fatalf("UnmarshalFlexible() got = %+v, want two persons A,B", got)
	}
}

func TestUnmarshalFlexible_Unrecoverable(t *testing.T) {
	type person struct {
		Name string `json:"name"`
		Age  int    `json:"age,omitempty"`
	}

	var got person
	err := UnmarshalFlexible("hello", &got)
	if err == nil {
		t.Fatalf("UnmarshalFlexible() expected error for unrecoverable input")
	}
	if !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("UnmarshalFlexible() expected ErrMalformedOutput, got %v", err)
	}
}

func TestUnmarshalFlexible_ModelOutputs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  QuestionResult
	}{
		{
			name:  "stringified question",
			input: `"{ \"question\": \"Do tariffs help?\", \"stance_a\": \"Costs\", \"stance_b\": \"Jobs\" }"`,
			want:  QuestionResult{Question: "Do tariffs help?", StanceA: "Costs", StanceB: "Jobs"},
		},
		{
			name:  "stringified with newlines",
			input: `"{\n  \"question\": \"Do tariffs help?\",\n  \"stance_a\": \"Costs\",\n  \"stance_b\": \"Jobs\"\n  }\n"`,
			want:  QuestionResult{Question: "Do tariffs help?", StanceA: "Costs", StanceB: "Jobs"},
		},
		{
			name:  "unquoted keys",
			input: `{question: 'Do tariffs help?', stance_a: 'Costs', stance_b: 'Jobs'}`,
			want:  QuestionResult{Question: "Do tariffs help?", StanceA: "Costs", StanceB: "Jobs"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got QuestionResult
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, tc.want)
			}
		})
	}
}
