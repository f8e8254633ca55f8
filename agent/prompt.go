package agent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const maxProjectDocBytes = 32 * 1024

const basePrompt = `You are a coding assistant specialised in software development. You can:

1. Create and manage project structures, including new files and folders
2. Write, debug and improve code across multiple languages
3. Read existing files and list directory contents
4. Execute code in an isolated execution environment and inspect its output
5. Check on and stop processes that keep running in the background

You have direct access to these operations; perform them without asking for
permission. Request an operation by starting your reply with one of:

/create <path>      followed by the file content on the next lines
/read <path>
/list [dir]
/mkdir <path>
/stop <job_id>
/status <job_id>

To run code, put it in a fenced block tagged run:

` + "```run" + `
print("hello")
` + "```" + `

Code that is still running after %s keeps running in the background; you
receive its job id and can check or stop it later. The conversational forms
"create a file named [filename] with content: [content]", "read the file
[filename]" and "list files in the current directory" also work.

Always tell the user which operations you performed.`

// PromptOptions configures BuildSystemPrompt.
type PromptOptions struct {
	WorkDir     string
	Model       string
	Runtime     string
	ExecTimeout time.Duration
	Automode    bool
	// Instructions are appended last.
	Instructions string
}

// AutomodeNote is appended to the system prompt while automode is running.
const AutomodeNote = `You are in automode: keep working through the task step by step without
waiting for the user. When the original request has been fully achieved,
say ` + CompletionSentinel + ` in your reply.`

// BuildSystemPrompt assembles the base prompt, the environment block and any
// project instructions found between the git root and the working directory.
func BuildSystemPrompt(opts PromptOptions) string {
	timeout := opts.ExecTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	parts := []string{
		fmt.Sprintf(basePrompt, timeout),
		BuildEnvironmentContext(opts.WorkDir, opts.Model, opts.Runtime),
	}
	if docs := DiscoverProjectDocs(opts.WorkDir); docs != "" {
		parts = append(parts, docs)
	}
	if opts.Automode {
		parts = append(parts, AutomodeNote)
	}
	if opts.Instructions != "" {
		parts = append(parts, "# User Instructions\n\n"+opts.Instructions)
	}
	return strings.Join(parts, "\n\n")
}

// BuildEnvironmentContext describes where the assistant is running.
func BuildEnvironmentContext(workDir, model, rt string) string {
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", workDir)
	isRepo := isGitRepository(workDir)
	fmt.Fprintf(&sb, "Is git repository: %v\n", isRepo)
	if isRepo {
		if branch := gitBranch(workDir); branch != "" {
			fmt.Fprintf(&sb, "Git branch: %s\n", branch)
		}
	}
	fmt.Fprintf(&sb, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if rt != "" {
		fmt.Fprintf(&sb, "Code runtime: %s\n", rt)
	}
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs loads AGENTS.md files from the git root (or workDir)
// down to workDir, capped at 32KB in total.
func DiscoverProjectDocs(workDir string) string {
	if workDir == "" {
		return ""
	}
	root := gitRoot(workDir)
	if root == "" {
		root = workDir
	}

	var docs []string
	total := 0
	for _, dir := range pathHierarchy(root, workDir) {
		content, err := os.ReadFile(filepath.Join(dir, "AGENTS.md"))
		if err != nil {
			continue
		}
		remaining := maxProjectDocBytes - total
		if remaining <= 0 {
			docs = append(docs, "[Project instructions truncated at 32KB]")
			break
		}
		text := string(content)
		if len(text) > remaining {
			text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
		}
		docs = append(docs, fmt.Sprintf("# AGENTS.md (from %s)\n\n%s", dir, text))
		total += len(text)
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// pathHierarchy returns the directories from root down to target inclusive.
// A target outside root yields just root.
func pathHierarchy(root, target string) []string {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	dirs := []string{root}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return dirs
	}
	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}

func isGitRepository(dir string) bool {
	return strings.TrimSpace(git(dir, "rev-parse", "--is-inside-work-tree")) == "true"
}

func gitRoot(dir string) string {
	return strings.TrimSpace(git(dir, "rev-parse", "--show-toplevel"))
}

func gitBranch(dir string) string {
	return strings.TrimSpace(git(dir, "rev-parse", "--abbrev-ref", "HEAD"))
}

func git(dir string, args ...string) string {
	if dir == "" {
		return ""
	}
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}
