package otel

// TransferHeaderKey is the context key under which the REST middleware stores
// the value of a configured transfer header.
type TransferHeaderKey string
