// Package pod holds the pod-side data the controller keeps between sessions:
// the pod state blob, the basal schedule, the insulin type and the
// confirmation beep policy.
package pod
