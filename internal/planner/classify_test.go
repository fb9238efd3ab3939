package planner

import (
	"reflect"
	"testing"

	"github.com/planion/planion/pkg/models"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		title string
		desc  string
		want  Complexity
	}{
		{"one-liner", "fix typo", "", ComplexityTrivial},
		{"short prose", "update the readme with the new build instructions for contributors and reviewers", "", ComplexitySimple},
		{"risky single step", "deploy the hotfix", "", ComplexitySimple},
		{
			"a couple of steps",
			"Build the importer",
			"- Parse the input\n- Write the logic\n- Add tests\n",
			ComplexitySimple,
		},
		{
			"stepped work",
			"Build the importer",
			"- Parse the input\n- Write the logic\n- Add tests\n- Document it\n",
			ComplexityMedium,
		},
		{
			"risky stepped work",
			"Release v2",
			"- Update the changelog\n- Deploy the release to production\n",
			ComplexityComplex,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := &models.Task{Title: tc.title, Description: tc.desc}
			if got := Classify(task); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestExtractSteps(t *testing.T) {
	desc := "Do the thing:\n" +
		"- first step\n" +
		"* second step\n" +
		"3. third step\n" +
		"4) fourth step\n" +
		"\n" +
		"Some trailing prose that is not a step.\n"
	want := []string{"first step", "second step", "third step", "fourth step"}
	if got := ExtractSteps(desc); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtractStepsProseOnly(t *testing.T) {
	if got := ExtractSteps("Just write it properly and test it."); got != nil {
		t.Errorf("prose must yield no steps, got %v", got)
	}
}

func TestStateChangingWordBoundaries(t *testing.T) {
	if !StateChanging("deploy to production") {
		t.Error("deploy must be state-changing")
	}
	if StateChanging("improve the product page") {
		t.Error("'product' must not match 'prod'")
	}
	if StateChanging("add a parser for the report") {
		t.Error("plain coding work is not state-changing")
	}
}

func TestInferSpecialist(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"investigate the flaky test", "researcher"},
		{"restart the api server", "system-operator"},
		{"add pagination to the list endpoint", "coder"},
	}
	for _, tc := range cases {
		task := &models.Task{Title: tc.title}
		if got := InferSpecialist(task); got != tc.want {
			t.Errorf("%q: got %s, want %s", tc.title, got, tc.want)
		}
	}
}
