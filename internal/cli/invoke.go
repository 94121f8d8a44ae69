package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gzhole/graphpower/internal/approval"
	"github.com/gzhole/graphpower/internal/credential"
	"github.com/gzhole/graphpower/internal/graph"
	"github.com/gzhole/graphpower/internal/mcp"
	"github.com/gzhole/graphpower/internal/orchestrator"
)

// errToolFailed is returned after an isError result has been printed.
var errToolFailed = errors.New("tool call failed")

var invokeCmd = &cobra.Command{
	Use:   "invoke <METHOD> <endpoint>",
	Short: "Call one Graph endpoint through invoke_graph",
	Long: `Runs invoke_graph once from the command line and prints the tool result.
Calls that change data (POST, PATCH, PUT, DELETE) ask for confirmation
unless --yes is given; without a terminal they are refused.

Usage:
  graphpower invoke GET /me
  graphpower invoke GET /me/messages --query top=5 --query select=subject
  graphpower invoke POST /me/sendMail --body @mail.json --yes`,
	Args: cobra.ExactArgs(2),
	RunE: invokeCommand,
}

var (
	invokeToken      string
	invokeBody       string
	invokeQuery      []string
	invokeAPIVersion string
	invokeYes        bool
)

func init() {
	invokeCmd.Flags().StringVar(&invokeToken, "token", "", "Graph access token (default: GRAPH_TOKEN, Azure credential, then prompt)")
	invokeCmd.Flags().StringVar(&invokeBody, "body", "", "JSON request body, or @file to read it from a file")
	invokeCmd.Flags().StringArrayVar(&invokeQuery, "query", nil, "Query option as key=value (repeatable)")
	invokeCmd.Flags().StringVar(&invokeAPIVersion, "api-version", graph.APIVersionV1, "Graph API version: v1.0 or beta")
	invokeCmd.Flags().BoolVarP(&invokeYes, "yes", "y", false, "Send data-changing requests without confirmation")
	rootCmd.AddCommand(invokeCmd)
}

func invokeCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp("cli")
	if err != nil {
		return err
	}
	defer a.close()

	arguments, err := invokeArguments(args[0], args[1])
	if err != nil {
		return err
	}

	prompter := approval.Terminal()
	method := strings.ToUpper(args[0])
	if approval.NeedsApproval(method) && !invokeYes {
		res := prompter.Ask(describeCall(a.graph, arguments))
		if !res.Approved {
			a.logger.Info("request not sent", zap.String("user_action", res.UserAction))
			return fmt.Errorf("request not sent (%s)", res.UserAction)
		}
	}

	resolver := credential.NewResolver(credential.Config{
		Token:  invokeToken,
		Azure:  azureCredential(a.logger),
		Prompt: prompter,
		Clock:  a.clock,
		Logger: a.logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auth, err := resolver.Authorization(ctx)
	if err != nil {
		return err
	}

	result := a.orch.Call(ctx, mcp.ToolCall{
		Name:          orchestrator.ToolInvokeGraph,
		Arguments:     arguments,
		Authorization: auth,
	})
	return printResult(cmd, result)
}

// invokeArguments turns command-line input into invoke_graph arguments.
func invokeArguments(method, endpoint string) (map[string]interface{}, error) {
	arguments := map[string]interface{}{
		"method":     method,
		"endpoint":   endpoint,
		"apiVersion": invokeAPIVersion,
	}

	if invokeBody != "" {
		raw := []byte(invokeBody)
		if strings.HasPrefix(invokeBody, "@") {
			data, err := os.ReadFile(invokeBody[1:])
			if err != nil {
				return nil, fmt.Errorf("reading body: %w", err)
			}
			raw = data
		}
		var body interface{}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("--body is not valid JSON: %w", err)
		}
		arguments["body"] = body
	}

	if len(invokeQuery) > 0 {
		query := make(map[string]interface{}, len(invokeQuery))
		for _, kv := range invokeQuery {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return nil, fmt.Errorf("--query %q: expected key=value", kv)
			}
			query[strings.TrimSpace(k)] = v
		}
		arguments["queryParams"] = query
	}
	return arguments, nil
}

// describeCall builds the approval prompt for an invoke_graph call.
func describeCall(client *graph.Client, arguments map[string]interface{}) approval.Prompt {
	method := strings.ToUpper(fmt.Sprint(arguments["method"]))
	endpoint := fmt.Sprint(arguments["endpoint"])
	if !graph.IsAbsoluteURL(endpoint) && !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	version, err := graph.NormalizeAPIVersion(fmt.Sprint(arguments["apiVersion"]))
	if err != nil {
		version = graph.APIVersionV1
	}

	p := approval.Prompt{
		Method:              method,
		URL:                 client.RequestURL(graph.Operation{Endpoint: endpoint, Method: method, APIVersion: version}),
		RequiredPermissions: graph.InferPermissions(endpoint, method),
	}
	if body, ok := arguments["body"]; ok {
		if data, err := json.Marshal(body); err == nil {
			p.Body = string(data)
			if len(p.Body) > 300 {
				p.Body = p.Body[:300] + "..."
			}
		}
	}
	return p
}

// azureCredential returns the default Azure credential chain, or nil when it
// cannot be built.
func azureCredential(log *zap.Logger) azcore.TokenCredential {
	cred, err := credential.DefaultAzureCredential()
	if err != nil {
		log.Debug("Azure credential unavailable", zap.Error(err))
		return nil
	}
	return cred
}

// printResult writes the tool result text to stdout.
func printResult(cmd *cobra.Command, result *mcp.CallToolResult) error {
	for _, c := range result.Content {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), c.Text)
	}
	if result.IsError {
		return errToolFailed
	}
	return nil
}
