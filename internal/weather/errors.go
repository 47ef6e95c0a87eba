package weather

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned before any stage runs: bad bbox,
	// unsupported model or format, unparsable timestamp.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrAcquisition means a vendor client or download failed.
	ErrAcquisition = errors.New("acquisition failure")
	// ErrTransform means a reprojection or subset tool failed or wrote nothing.
	ErrTransform = errors.New("transform failure")
	// ErrConversion means the grid-to-JSON converter failed.
	ErrConversion = errors.New("conversion failure")
	// ErrTimeout means a stage exceeded its time bound.
	ErrTimeout = errors.New("stage timeout")
)

// Error is a classified pipeline failure. Kind is one of the sentinel errors
// above; Err is the underlying cause, if any.
type Error struct {
	Kind  error
	Model Model
	Stage Stage
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Model != "" {
		msg = fmt.Sprintf("%s: %s", e.Model, msg)
	}
	if e.Stage != "" {
		msg = fmt.Sprintf("%s (stage %s)", msg, e.Stage)
	}
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalidf(format string, args ...any) error {
	return &Error{Kind: ErrInvalidRequest, Msg: fmt.Sprintf(format, args...)}
}

// IsClientError reports whether err was caused by the request itself rather
// than by an external collaborator.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

// stageError classifies a collaborator failure for the given stage.
// stageCtx is the context the collaborator ran under.
func stageError(stageCtx context.Context, model Model, stage Stage, err error) error {
	var classified *Error
	if errors.As(err, &classified) && classified.Kind != nil {
		if classified.Model == "" {
			classified.Model = model
		}
		if classified.Stage == "" {
			classified.Stage = stage
		}
		return classified
	}

	kind := kindForStage(stage)
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		kind = ErrTimeout
	}
	return &Error{Kind: kind, Model: model, Stage: stage, Err: err}
}

func kindForStage(stage Stage) error {
	switch stage {
	case StageRaw:
		return ErrAcquisition
	case StageReprojected, StageSubset:
		return ErrTransform
	default:
		return ErrConversion
	}
}
