package utils

import "fmt"

// Outcome is the single terminal result of a download job. The only
// implementations are Success, Failure and ServerFailure.
type Outcome interface {
	fmt.Stringer
	outcome()
}

type Success struct {
	Path string
}

type Failure struct {
	Kind ErrorKind
	Err  error
}

type ServerFailure struct {
	Status int
	Detail string
}

func (Success) outcome()       {}
func (Failure) outcome()       {}
func (ServerFailure) outcome() {}

func (s Success) String() string {
	return "success: " + s.Path
}

func (f Failure) String() string {
	if f.Err == nil {
		return "failure: " + string(f.Kind)
	}
	return fmt.Sprintf("failure: %s: %v", f.Kind, f.Err)
}

func (s ServerFailure) String() string {
	if s.Detail == "" {
		return fmt.Sprintf("server failure: status %d", s.Status)
	}
	return fmt.Sprintf("server failure: status %d: %s", s.Status, s.Detail)
}

// OutcomeFromError converts a job-level error into its terminal outcome.
// A nil error is not accepted; callers produce Success themselves.
func OutcomeFromError(err error) Outcome {
	fe := AsFetchError(err)
	if fe.Kind == KindServerError {
		detail := ""
		if fe.Err != nil {
			detail = fe.Err.Error()
		}
		return ServerFailure{Status: fe.Status, Detail: detail}
	}
	return Failure{Kind: fe.Kind, Err: fe.Err}
}
