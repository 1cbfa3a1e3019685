package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"ixfnotify/internal/ixf"
	"ixfnotify/internal/render"
	logx "ixfnotify/pkg/logx"
)

type renderOptions struct {
	input     string
	recipient string
	template  string
	ixfURL    string
	list      bool
}

func newRenderCommand() *cobra.Command {
	var o renderOptions
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a proposal with a notification template",
		Long: `Render prints the text a recipient would receive for one proposal.
Without --template the change summary is rendered.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.input, "input", "i", "-", "proposal file (yaml or json), - for stdin")
	f.StringVarP(&o.recipient, "recipient", "r", "", "audience: ac, net or ix")
	f.StringVarP(&o.template, "template", "t", "", "template name (see --list)")
	f.StringVar(&o.ixfURL, "ixf-url", "", "IX-F source url (defaults to the proposal's)")
	f.BoolVar(&o.list, "list", false, "list template names and exit")
	return cmd
}

func (o renderOptions) run(stdin io.Reader, out io.Writer) error {
	r, err := render.New(logx.Nop())
	if err != nil {
		return err
	}
	if o.list {
		for _, name := range r.Names() {
			fmt.Fprintln(out, name)
		}
		return nil
	}

	in, err := readInstance(o.input, stdin)
	if err != nil {
		return err
	}
	role := ixf.ParseRole(strings.TrimSpace(o.recipient))
	if o.recipient != "" && role == ixf.RoleUnknown {
		return fmt.Errorf("render: unknown recipient %q (want ac, net or ix)", o.recipient)
	}
	url := o.ixfURL
	if url == "" {
		url = in.IXFURL
	}
	rc := ixf.RenderContext{Instance: in, Recipient: role, IXFURL: url}

	var text string
	if o.template == "" {
		text = r.Render(rc)
	} else if text, err = r.RenderTemplate(o.template, rc); err != nil {
		return err
	}
	_, err = io.WriteString(out, text)
	return err
}

func readInstance(path string, stdin io.Reader) (*ixf.Instance, error) {
	var (
		raw []byte
		err error
	)
	if path == "" || path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("render: read input: %w", err)
	}
	in := &ixf.Instance{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(in); err != nil {
		return nil, fmt.Errorf("render: parse input: %w", err)
	}
	return in, nil
}
