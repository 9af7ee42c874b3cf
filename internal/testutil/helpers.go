// Package testutil provides shared test helpers for the sentry-kubernetes project.
// Import this in test files to avoid duplicating fixture loading, event builders, etc.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8stypes "k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/yaml"
)

// BaseTime is the creation time of events built by MakeEvent.
var BaseTime = time.Date(2023, 4, 8, 22, 27, 40, 0, time.UTC)

// FixturePath returns the absolute path of a file under testutil/testdata.
func FixturePath(name string) string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata", name)
}

// LoadEvent reads a YAML Event fixture from testutil/testdata.
// Fails the test immediately if the file can't be read or parsed.
func LoadEvent(t *testing.T, name string) *corev1.Event {
	t.Helper()
	path := FixturePath(name)
	data, err := os.ReadFile(path)
	require.NoError(t, err, "failed to read fixture %s", path)
	ev := &corev1.Event{}
	require.NoError(t, yaml.Unmarshal(data, ev), "failed to parse fixture %s", path)
	return ev
}

// MakeEvent creates a Warning event for a pod in the given namespace.
// Use for building test data in normalizer, filter, and pipeline tests.
func MakeEvent(ns, podName, reason string) *corev1.Event {
	return &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{
			Name:              podName + ".17541619a910bfcd",
			Namespace:         ns,
			UID:               k8stypes.UID("uid-" + podName),
			CreationTimestamp: metav1.NewTime(BaseTime),
		},
		InvolvedObject: corev1.ObjectReference{
			APIVersion: "v1",
			Kind:       "Pod",
			Name:       podName,
			Namespace:  ns,
		},
		Reason:  reason,
		Message: "Error: ImagePullBackOff",
		Source:  corev1.EventSource{Component: "kubelet"},
		Type:    corev1.EventTypeWarning,
	}
}

// At returns a copy of ev with its creation timestamp set to t.
func At(ev *corev1.Event, t time.Time) *corev1.Event {
	out := ev.DeepCopy()
	out.CreationTimestamp = metav1.NewTime(t)
	return out
}
