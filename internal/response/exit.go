package response

import "os"

// Exit statuses understood by mail transport agents (sysexits.h).
const (
	ExitOK          = 0
	ExitDataErr     = 65
	ExitNoInput     = 66
	ExitUnavailable = 69
	ExitTempFail    = 75
	ExitNoPerm      = 77
)

// ExitCode maps a result code to the pipe's exit status. Unknown codes are
// temporary failures so the MTA retries.
func ExitCode(code int) int {
	switch code {
	case 201:
		return ExitOK
	case 400:
		return ExitNoInput
	case 401, 403:
		return ExitNoPerm
	case 415, 416, 417, 501:
		return ExitDataErr
	case 503:
		return ExitUnavailable
	default:
		return ExitTempFail
	}
}

// Exit renders results as a process exit status. The payload is dropped.
type Exit struct {
	// Exit terminates the process. Nil means os.Exit.
	Exit func(int)
}

func (e Exit) Render(r Result) {
	exit := e.Exit
	if exit == nil {
		exit = os.Exit
	}
	exit(ExitCode(r.Code))
}
