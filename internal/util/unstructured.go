package util

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// ObjectMetaMap converts ObjectMeta into its unstructured JSON form with the
// given top-level keys removed. Null values are dropped.
func ObjectMetaMap(meta *metav1.ObjectMeta, omit ...string) (map[string]interface{}, error) {
	if meta == nil {
		return map[string]interface{}{}, nil
	}
	obj, err := runtime.DefaultUnstructuredConverter.ToUnstructured(meta)
	if err != nil {
		return nil, fmt.Errorf("convert object metadata: %w", err)
	}
	for _, key := range omit {
		delete(obj, key)
	}
	for key, val := range obj {
		if val == nil {
			delete(obj, key)
		}
	}
	return obj, nil
}
