package domain

import "strings"

// TaskClass buckets tasks for ordering safety. Classification is keyword
// based over title and labels; it feeds the hard type-ordering rule and
// the deployment gate in the assignment engine. An explicit
// override_safety label exempts a task from classification.
type TaskClass string

const (
	ClassDeployment     TaskClass = "deployment"
	ClassImplementation TaskClass = "implementation"
	ClassTesting        TaskClass = "testing"
	ClassOther          TaskClass = "other"
)

var (
	deploymentKeywords     = []string{"deploy", "release", "production", "rollout", "launch", "go-live"}
	implementationKeywords = []string{"implement", "build", "develop", "code", "integrate", "endpoint", "api", "create"}
	testingKeywords        = []string{"test", "qa", "verify", "validation", "e2e", "smoke"}
)

// Classify buckets a task by its labels first, then title keywords.
func Classify(t Task) TaskClass {
	if t.HasLabel(LabelOverrideSafety) {
		return ClassOther
	}

	switch t.EffectivePhase() {
	case PhaseDeployment:
		return ClassDeployment
	case PhaseImplementation:
		return ClassImplementation
	case PhaseTesting:
		return ClassTesting
	}

	for _, v := range t.LabelValues(LabelTypePrefix) {
		switch v {
		case "deployment", "release":
			return ClassDeployment
		case "implementation", "feature":
			return ClassImplementation
		case "testing", "test":
			return ClassTesting
		}
	}

	title := strings.ToLower(t.Title)
	if containsAny(title, deploymentKeywords) {
		return ClassDeployment
	}
	if containsAny(title, testingKeywords) {
		return ClassTesting
	}
	if containsAny(title, implementationKeywords) {
		return ClassImplementation
	}
	return ClassOther
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
