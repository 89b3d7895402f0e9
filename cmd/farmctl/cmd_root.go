package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"farmhands/internal/apiclient"
)

const defaultAPIURL = "http://localhost:3000/api/game"

type rootOpts struct {
	apiURL  string
	timeout time.Duration
}

func (o *rootOpts) client() *apiclient.Client {
	return apiclient.New(o.apiURL, nil)
}

// newRootCmd creates the "farmctl" command tree.
func newRootCmd() *cobra.Command {
	opts := &rootOpts{}
	root := &cobra.Command{
		Use:           "farmctl",
		Short:         "Operate the farm AI decision pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	apiURL := os.Getenv("FARMCTL_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api", apiURL, "game API base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		newSubmitCmd(opts),
		newStatusCmd(opts),
		newHealthCmd(opts),
		newSchemasCmd(),
		newValidateCmd(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
