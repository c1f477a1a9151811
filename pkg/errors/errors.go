// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeStoreVectorNotFound          Code = "store.vector.get.not_found"
	CodeStoreVectorInvalidInput      Code = "store.vector.write.invalid_input"
	CodeStoreVectorDatabaseFailure   Code = "store.vector.database_failure"
	CodeStoreVectorUpstreamFailure   Code = "store.vector.upstream.failure"
	CodeStoreVectorClosed            Code = "store.vector.closed"
	CodeStoreBackendUnsupported      Code = "store.backend.unsupported"
	CodeStoreTemporalNotFound        Code = "store.temporal.get.not_found"
	CodeStoreTemporalInvalidInput    Code = "store.temporal.write.invalid_input"
	CodeStoreTemporalDatabaseFailure Code = "store.temporal.database_failure"
	CodeStoreWaypointDatabaseFailure Code = "store.waypoint.database_failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeIngestExtractFailure Code = "ingest.extract.failure"
	CodeIngestStoreFailure   Code = "ingest.store.failure"
	CodeIngestInvalidInput   Code = "ingest.input.invalid_input"

	CodeMaintenanceScheduleInvalid Code = "maintenance.schedule.invalid_value"
	CodeMaintenanceSweepFailure    Code = "maintenance.sweep.failure"

	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeCLIInputInvalid Code = "cli.input.invalid_input"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldNamespace(value string) Attr {
	return Field("namespace", value)
}

func FieldMemoryID(value string) Attr {
	return Field("memory_id", value)
}

func FieldSector(value string) Attr {
	return Field("sector", value)
}

func FieldCollection(value string) Attr {
	return Field("collection", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeStoreVectorDatabaseFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func IsDatabaseFailure(err error) bool {
	return reason(CodeOf(err)) == "database_failure"
}

func Join(errs ...error) error {
	return oops.Code(CodeStoreVectorDatabaseFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
