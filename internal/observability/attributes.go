package observability

import "go.opentelemetry.io/otel/attribute"

// Attribute keys are centralized here so metric labels stay consistent.

func methodAttr(method string) attribute.KeyValue {
	return attribute.String("method", method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String("path", path)
}

func statusAttr(status int) attribute.KeyValue {
	return attribute.Int("status", status)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool("success", success)
}

func stoppedAttr(stopped bool) attribute.KeyValue {
	return attribute.Bool("stopped", stopped)
}

func workersAttr(workers int) attribute.KeyValue {
	return attribute.Int("workers", workers)
}
