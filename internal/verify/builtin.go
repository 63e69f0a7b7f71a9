package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/autopilot/internal/plan"
)

// createFile is satisfied when the target is a non-empty regular file.
func (v *Verifier) createFile(_ context.Context, task plan.Task) (Result, error) {
	info, err := os.Stat(v.resolve(task.Path))
	switch {
	case os.IsNotExist(err):
		return Result{Reason: task.Path + " does not exist"}, nil
	case err != nil:
		return Result{}, err
	case !info.Mode().IsRegular():
		return Result{Reason: task.Path + " is not a regular file"}, nil
	case info.Size() == 0:
		return Result{Reason: task.Path + " is empty"}, nil
	}
	return Result{Satisfied: true, Reason: fmt.Sprintf("%s exists (%d bytes)", task.Path, info.Size())}, nil
}

// shellMeta are characters whose presence makes a command too complex to
// reason about.
const shellMeta = "|<>$`(){}*?[]\"'\\~!#"

// splitCommand splits a command line on && and ; into trimmed segments.
func splitCommand(command string) []string {
	var segments []string
	for _, part := range strings.Split(command, "&&") {
		for _, seg := range strings.Split(part, ";") {
			if seg = strings.TrimSpace(seg); seg != "" {
				segments = append(segments, seg)
			}
		}
	}
	return segments
}

// runCommand is satisfied only when every segment of the command is a
// recognised idempotent command whose effect is present.
func (v *Verifier) runCommand(_ context.Context, task plan.Task) (Result, error) {
	segments := splitCommand(task.Command)
	if len(segments) == 0 {
		return Result{Reason: "empty command"}, nil
	}

	evidence := make([]string, 0, len(segments))
	for _, seg := range segments {
		ok, reason := v.checkSegment(seg)
		if !ok {
			return Result{Reason: reason}, nil
		}
		evidence = append(evidence, reason)
	}
	return Result{Satisfied: true, Reason: strings.Join(evidence, "; ")}, nil
}

func (v *Verifier) checkSegment(seg string) (bool, string) {
	if strings.ContainsAny(seg, shellMeta) {
		return false, "unrecognised command: " + seg
	}
	fields := strings.Fields(seg)
	switch fields[0] {
	case "mkdir":
		return v.checkMkdir(fields[1:])
	case "npm", "yarn", "pnpm":
		return v.checkInstall(fields)
	case "git":
		return v.checkGitInit(fields[1:])
	default:
		return false, "unrecognised command: " + seg
	}
}

func (v *Verifier) checkMkdir(args []string) (bool, string) {
	var dirs []string
	for _, a := range args {
		switch a {
		case "-p", "--parents", "-v", "--verbose":
			continue
		}
		if strings.HasPrefix(a, "-") {
			return false, "unrecognised mkdir flag " + a
		}
		dirs = append(dirs, a)
	}
	if len(dirs) == 0 {
		return false, "mkdir without directories"
	}
	for _, d := range dirs {
		if !isDir(v.resolve(d)) {
			return false, "directory " + d + " does not exist"
		}
	}
	return true, "directories exist: " + strings.Join(dirs, ", ")
}

var lockFiles = map[string][]string{
	"npm":  {"package-lock.json", "npm-shrinkwrap.json"},
	"yarn": {"yarn.lock"},
	"pnpm": {"pnpm-lock.yaml"},
}

// checkInstall recognises a bare dependency install: npm install, npm i,
// npm ci, yarn, yarn install, pnpm install and pnpm i. Installing named
// packages is not recognised.
func (v *Verifier) checkInstall(fields []string) (bool, string) {
	manager := fields[0]
	seg := strings.Join(fields, " ")
	switch {
	case len(fields) == 1 && manager == "yarn":
	case len(fields) == 2 && (fields[1] == "install" || fields[1] == "i"):
	case len(fields) == 2 && manager == "npm" && fields[1] == "ci":
	default:
		return false, "unrecognised command: " + seg
	}

	if !isDir(v.resolve("node_modules")) {
		return false, "node_modules does not exist"
	}
	for _, lock := range lockFiles[manager] {
		if isFile(v.resolve(lock)) {
			return true, fmt.Sprintf("%s and node_modules exist", lock)
		}
	}
	return false, "no " + manager + " lock file"
}

func (v *Verifier) checkGitInit(args []string) (bool, string) {
	if len(args) == 0 || args[0] != "init" || len(args) > 2 {
		return false, "unrecognised command: git " + strings.Join(args, " ")
	}
	dir := "."
	if len(args) == 2 {
		if strings.HasPrefix(args[1], "-") {
			return false, "unrecognised git init flag " + args[1]
		}
		dir = args[1]
	}
	gitDir := filepath.Join(dir, ".git")
	if !isDir(v.resolve(gitDir)) {
		return false, gitDir + " does not exist"
	}
	return true, gitDir + " exists"
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
