// Command shadow runs the Shadow task execution kernel: an HTTP API for
// submitting and streaming tasks, a GitHub webhook receiver, and the
// background cleanup sweep, all wired from one process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	ghoauth2 "golang.org/x/oauth2/github"

	"github.com/google/go-github/v66/github"

	"github.com/shadow-org/shadow/internal/checkpoint"
	"github.com/shadow-org/shadow/internal/cleanup"
	"github.com/shadow-org/shadow/internal/config"
	"github.com/shadow-org/shadow/internal/gitworker"
	"github.com/shadow-org/shadow/internal/kernel"
	"github.com/shadow-org/shadow/internal/llm"
	"github.com/shadow-org/shadow/internal/messagelog"
	"github.com/shadow-org/shadow/internal/minigen"
	"github.com/shadow-org/shadow/internal/modelctx"
	"github.com/shadow-org/shadow/internal/observability"
	"github.com/shadow-org/shadow/internal/prworker"
	"github.com/shadow-org/shadow/internal/sandbox"
	"github.com/shadow-org/shadow/internal/storage"
	"github.com/shadow-org/shadow/internal/tools"
	"github.com/shadow-org/shadow/internal/webhook"
	"github.com/shadow-org/shadow/pkg/models"
)

func main() {
	root := &cobra.Command{
		Use:   "shadow",
		Short: "Shadow task streaming and execution kernel",
	}
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receiver, and cleanup sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}

func run(ctx context.Context) error {
	logger := observability.NewLogger("shadow")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := storage.NewCockroachStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect storage: %w", err)
	}
	defer store.Close()

	msgLog := messagelog.New(store, observability.NewLogger("messagelog"))

	gen, err := minigen.New(cfg.AnthropicAPIKey, cfg.OpenAIAPIKey)
	if err != nil {
		return fmt.Errorf("build mini-model generator: %w", err)
	}
	if gen == nil {
		logger.Warn("no ANTHROPIC_API_KEY or OPENAI_API_KEY set, commit/PR/stacked-task text generation disabled (fixed fallbacks will be used)")
	}

	var commitGen gitworker.CommitMessageGenerator
	var prGen prworker.DescriptionGenerator
	var namer kernel.StackedTaskNamer
	if gen != nil {
		commitGen, prGen, namer = gen, gen, gen
	}

	gw := gitworker.New(commitGen, observability.NewLogger("gitworker"))

	ghClient := newGitHubClient(ctx, cfg)
	prw := prworker.New(ghClient, prGen, observability.NewLogger("prworker"))

	modelCtxs := modelctx.NewCache(15 * time.Minute)

	k8sClient, err := newKubernetesClient()
	if err != nil {
		logger.Warn("kubernetes client unavailable, sandbox provisioning disabled", "error", err)
	}
	var sandboxCtl *sandbox.Controller
	if k8sClient != nil {
		sandboxCtl = sandbox.New(k8sClient, sandbox.Config{
			Namespace:    cfg.KubeNamespace,
			Image:        cfg.SandboxImage,
			ReadyTimeout: cfg.SandboxReadyTimeout,
		}, observability.NewLogger("sandbox"))
	}

	providerFor := func(p models.Provider, apiKeys map[models.Provider]string) (llm.Provider, error) {
		return llm.ForProvider(p, apiKeys)
	}
	toolsFor := func(sandboxAddr string) tools.Executor {
		local := tools.NewLocalExecutor(os.TempDir())
		if sandboxAddr == "" {
			return local
		}
		remote := tools.NewRemoteExecutor(sandboxAddr)
		return tools.Dispatch(local, remote, sandboxAddr)
	}

	checkpoints := checkpoint.New(cfg.CheckpointDir)

	k := kernel.New(store, msgLog, gw, prw, modelCtxs, providerFor, toolsFor, checkpoints, namer, cfg.CleanupIdleTimeout, observability.NewLogger("kernel"))

	sink := webhook.New(cfg.GitHubWebhookSecret, store, observability.NewLogger("webhook"))

	if sandboxCtl != nil {
		scheduler := cleanup.New(store, sandboxCtl, cfg.CleanupInterval, observability.NewLogger("cleanup"))
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start cleanup scheduler: %w", err)
		}
		defer scheduler.Stop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/github", webhookHandler(sink))
	mux.HandleFunc("/tasks/", routeTaskRequest(taskMessageHandler(k), taskMessageEditHandler(k)))
	mux.HandleFunc("/stacked-tasks/", stackedTaskHandler(k))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}

func webhookHandler(sink *webhook.Sink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		if err := sink.Verify(body, r.Header.Get("X-Hub-Signature-256")); err != nil {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		if r.Header.Get("X-GitHub-Event") == "pull_request" {
			if err := sink.HandlePullRequestEvent(r.Context(), body); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type submitRequest struct {
	Content string `json:"content"`
	Queue   bool   `json:"queue"`
}

// routeTaskRequest dispatches under /tasks/ between a plain task submission
// ("/tasks/{taskID}") and a message edit ("/tasks/{taskID}/messages/{messageID}").
func routeTaskRequest(submit, edit http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path[len("/tasks/"):], "/messages/") {
			edit(w, r)
			return
		}
		submit(w, r)
	}
}

func taskMessageHandler(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := r.URL.Path[len("/tasks/"):]
		if taskID == "" {
			http.Error(w, "missing task id", http.StatusBadRequest)
			return
		}

		switch r.Method {
		case http.MethodPost:
			var req submitRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			if err := k.Submit(r.Context(), taskID, req.Content, req.Queue); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		case http.MethodDelete:
			if err := k.Stop(r.Context(), taskID); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

type editMessageRequest struct {
	Content string `json:"content"`
}

// taskMessageEditHandler handles PUT /tasks/{taskID}/messages/{messageID},
// rewriting an earlier user message and re-running the task from there.
func taskMessageEditHandler(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rest := r.URL.Path[len("/tasks/"):]
		parts := strings.SplitN(rest, "/messages/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			http.Error(w, "expected /tasks/{taskID}/messages/{messageID}", http.StatusBadRequest)
			return
		}
		taskID, messageID := parts[0], parts[1]

		var req editMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := k.EditUserMessage(r.Context(), taskID, messageID, req.Content); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

type stackedTaskRequest struct {
	Prompt string `json:"prompt"`
	Queue  bool   `json:"queue"`
}

// stackedTaskHandler handles POST /stacked-tasks/{parentTaskID}, spawning a
// follow-up task whose base branch is the parent's working branch.
func stackedTaskHandler(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		parentID := r.URL.Path[len("/stacked-tasks/"):]
		if parentID == "" {
			http.Error(w, "missing parent task id", http.StatusBadRequest)
			return
		}
		var req stackedTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		child, err := k.CreateStackedTask(r.Context(), parentID, req.Prompt, req.Queue)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(child)
	}
}

func newGitHubClient(ctx context.Context, cfg *config.Config) *github.Client {
	if cfg.GitHubClientSecret == "" {
		return github.NewClient(nil)
	}
	conf := &oauth2.Config{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		Endpoint:     ghoauth2.Endpoint,
	}
	token := &oauth2.Token{} // populated per-user at authorization time; this is the app-level client.
	httpClient := conf.Client(ctx, token)
	return github.NewClient(httpClient)
}

func newKubernetesClient() (kubernetes.Interface, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("in-cluster config: %w", err)
	}
	return kubernetes.NewForConfig(restCfg)
}
