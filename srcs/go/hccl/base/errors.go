package base

import (
	"github.com/pkg/errors"
)

// Code is the flat result enumeration shared by every layer.
// A Code is itself an error; call sites add context with errors.Wrapf and
// callers recover the code with CodeOf.
type Code int32

const (
	Success       Code = iota // 0
	ErrPara                   // parameter error
	ErrPtr                    // null pointer
	ErrMemory                 // memory error
	ErrInternal               // internal logic error
	ErrNotSupport             // feature not supported
	ErrNotFound               // resource not found
	ErrUnavail                // resource unavailable
	ErrSyscall                // system call failed
	ErrTimeout                // timeout
	ErrOpenFile               // failed to open file
	ErrTCPConnect             // tcp connect failed
	ErrRoceConnect            // rdma connect failed
	ErrTCPTransfer            // tcp transfer failed
	ErrRoceTransfer           // rdma transfer failed
	ErrRuntime                // runtime call failed
	ErrDrv                    // driver call failed
	ErrProfiling              // profiling call failed
	ErrCCE                    // cce call failed
	ErrNetwork                // network call failed
	ErrAgain                  // try again
	ErrRemote                 // remote completion queue error
	ErrSuspending             // communicator suspending
)

var codeNames = map[Code]string{
	Success:         "success",
	ErrPara:         "parameter error",
	ErrPtr:          "empty pointer",
	ErrMemory:       "memory error",
	ErrInternal:     "internal error",
	ErrNotSupport:   "not support feature",
	ErrNotFound:     "not found specific resource",
	ErrUnavail:      "resource unavailable",
	ErrSyscall:      "call system interface error",
	ErrTimeout:      "timeout",
	ErrOpenFile:     "open file fail",
	ErrTCPConnect:   "tcp connect fail",
	ErrRoceConnect:  "roce connect fail",
	ErrTCPTransfer:  "tcp transfer fail",
	ErrRoceTransfer: "roce transfer fail",
	ErrRuntime:      "call runtime api fail",
	ErrDrv:          "call driver api fail",
	ErrProfiling:    "call profiling api fail",
	ErrCCE:          "call cce api fail",
	ErrNetwork:      "call network api fail",
	ErrAgain:        "try again",
	ErrRemote:       "error cqe",
	ErrSuspending:   "communicator suspending",
}

func (c Code) Error() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "unknown error"
}

func (c Code) String() string {
	return c.Error()
}

// CodeOf returns the Code carried by err, Success for nil, and ErrInternal
// for errors that never passed through a Code.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ErrInternal
}

// Errorf returns an error carrying code c with a formatted message.
func Errorf(c Code, format string, args ...interface{}) error {
	return errors.Wrapf(c, format, args...)
}

// CheckNotNil fails with ErrPtr when ok is false. It mirrors the
// "checked pointer, early return" pattern used across planner steps.
func CheckNotNil(ok bool, what string) error {
	if !ok {
		return errors.Wrapf(ErrPtr, "%s is nil", what)
	}
	return nil
}
