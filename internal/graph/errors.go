package graph

import "fmt"

// SchemaError reports a malformed graph document: bad JSON, or a structurally
// invalid task/service/mount (spec §7 E011 invalid_format / E012 json_parse_error).
type SchemaError struct {
	Code string // E011, E012
	Msg  string
}

func (e *SchemaError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func schemaErrorf(code, format string, args ...any) error {
	return &SchemaError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// ArtifactError reports an E013 task_inputs wiring failure: the source task is
// missing, doesn't declare the referenced output, or isn't in the consumer's
// transitive dependency closure.
type ArtifactError struct {
	Task     string
	Source   string
	Output   string
	SubCode  string // missing_source | missing_output | not_in_closure
	Msg      string
}

func (e *ArtifactError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("E013 (%s): task %q task_inputs -> %s/%s: %s", e.SubCode, e.Task, e.Source, e.Output, e.Msg)
}

func artifactErrorf(task, source, output, subCode, format string, args ...any) error {
	return &ArtifactError{Task: task, Source: source, Output: output, SubCode: subCode, Msg: fmt.Sprintf(format, args...)}
}
