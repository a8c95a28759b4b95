package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Stage names the pipeline stage an error was raised in.
type Stage string

const (
	StagePlan  Stage = "plan"
	StageFetch Stage = "fetch"
	StagePatch Stage = "patch"
	StageBuild Stage = "build"
	StageStage Stage = "stage"
	StageLink  Stage = "link"
)

// Detail keys shared by the domain constructors.
const (
	DetailPackage  = "package"
	DetailStage    = "stage"
	DetailAction   = "action"
	DetailExitCode = "exit_code"
	DetailOutput   = "output"
	DetailPath     = "path"
	DetailOwner    = "owner"
	DetailExpected = "expected"
	DetailActual   = "actual"
	DetailCycle    = "cycle"
	DetailLocator  = "locator"
	DetailAttempts = "attempts"
)

// NewCycleError reports a dependency cycle. The path starts and ends with
// the same formula name.
func NewCycleError(path []string) *KegError {
	return Newf(ErrCycle, "dependency cycle detected: %s", strings.Join(path, " -> ")).
		WithDetail(DetailCycle, path)
}

// NewUnresolvedDependencyError reports a dependency missing from the registry.
func NewUnresolvedDependencyError(from, missing string) *KegError {
	return Newf(ErrUnresolvedDependency, "%s depends on %s, which has no formula", from, missing).
		WithDetail(DetailPackage, from).
		WithDetail("dependency", missing)
}

// NewFetchError reports a retrieval that failed after every attempt.
func NewFetchError(err error, locator string, attempts int) *KegError {
	return Wrapf(err, ErrFetch, "failed to fetch %s after %d attempt(s)", locator, attempts).
		WithDetail(DetailLocator, locator).
		WithDetail(DetailAttempts, attempts)
}

// NewIntegrityError reports a downloaded artifact whose digest differs from
// the declared one.
func NewIntegrityError(locator, expected, actual string) *KegError {
	return Newf(ErrIntegrity, "digest mismatch for %s: expected %s, got %s", locator, expected, actual).
		WithDetail(DetailLocator, locator).
		WithDetail(DetailExpected, expected).
		WithDetail(DetailActual, actual)
}

// NewPatchIntegrityError reports a patch whose digest differs from the
// declared one.
func NewPatchIntegrityError(locator, expected, actual string) *KegError {
	return Newf(ErrPatchIntegrity, "patch digest mismatch for %s: expected %s, got %s", locator, expected, actual).
		WithDetail(DetailLocator, locator).
		WithDetail(DetailExpected, expected).
		WithDetail(DetailActual, actual)
}

// NewPatchApplyError reports a patch that did not apply cleanly.
func NewPatchApplyError(locator string, exitCode int, output string) *KegError {
	return Newf(ErrPatchApply, "patch %s does not apply cleanly", locator).
		WithDetail(DetailLocator, locator).
		WithDetail(DetailExitCode, exitCode).
		WithDetail(DetailOutput, output)
}

// NewBuildStepError reports the first build action that exited non-zero.
func NewBuildStepError(action string, exitCode int, tail string) *KegError {
	return Newf(ErrBuildStep, "action %q exited with status %d", action, exitCode).
		WithDetail(DetailAction, action).
		WithDetail(DetailExitCode, exitCode).
		WithDetail(DetailOutput, tail)
}

// NewInstallError wraps a staging failure.
func NewInstallError(err error, format string, args ...interface{}) *KegError {
	if err == nil {
		return Newf(ErrInstall, format, args...)
	}
	return Wrapf(err, ErrInstall, format, args...)
}

// NewLinkConflictError reports a shared path already owned by someone else.
// An empty owner means the path exists but no package manages it.
func NewLinkConflictError(path, owner, requester string) *KegError {
	who := owner
	if who == "" {
		who = "an unmanaged file"
	}
	return Newf(ErrLinkConflict, "cannot link %s for %s: already owned by %s", path, requester, who).
		WithDetail(DetailPath, path).
		WithDetail(DetailOwner, owner).
		WithDetail(DetailPackage, requester)
}

// InStage annotates err with the package and stage it belongs to, keeping
// the original error code at the outermost level so callers can still
// match it with IsErrorCode.
func InStage(err error, pkg string, stage Stage) *KegError {
	if err == nil {
		return nil
	}
	return Wrapf(err, GetErrorCode(err), "package %q failed at %s stage", pkg, stage).
		WithDetail(DetailPackage, pkg).
		WithDetail(DetailStage, string(stage))
}

// Describe renders err together with the details a human needs to
// diagnose it: the stage, the failing action and the captured output.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(Message(err))
	details := CollectDetails(err)
	if action, ok := details[DetailAction]; ok {
		fmt.Fprintf(&b, "\n  action: %v", action)
	}
	if code, ok := details[DetailExitCode]; ok {
		fmt.Fprintf(&b, "\n  exit code: %v", code)
	}
	if out, ok := details[DetailOutput].(string); ok && strings.TrimSpace(out) != "" {
		b.WriteString("\n  output (tail):")
		for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
			b.WriteString("\n    ")
			b.WriteString(line)
		}
	}
	return b.String()
}

// Message joins the messages of the error chain without the error codes.
func Message(err error) string {
	var parts []string
	for err != nil {
		var kegErr *KegError
		if !errors.As(err, &kegErr) {
			parts = append(parts, err.Error())
			break
		}
		if kegErr.Message != "" {
			parts = append(parts, kegErr.Message)
		}
		err = kegErr.Wrapped
	}
	return strings.Join(parts, ": ")
}
