package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sidkik/tabletsync/cmd/util"
	"github.com/sidkik/tabletsync/pkg/config"
	"github.com/sidkik/tabletsync/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout       io.Writer = os.Stdout
	stdin        io.Reader = os.Stdin
	loadConfig             = util.LoadConfig
	writeConfig            = config.Write
	readPassword           = readPasswordImpl
)

// New creates a new `config` command.
func New() *cobra.Command {
	var cliOpts config.Config
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Setup the tabletsync configuration",
		Long: "Interactively configure how to reach the tablet and where to store\n" +
			"its documents. Values passed as flags aren't prompted for.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := SetupConfig(cliOpts); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&cliOpts.Host, "host", "", "Address of the tablet")
	cmd.Flags().StringVar(&cliOpts.User, "user", "", "SSH user on the tablet")
	cmd.Flags().StringVar(&cliOpts.KeyPath, "key", "",
		"Path to the SSH private key. If not set, a password is used")
	cmd.Flags().StringVar(&cliOpts.BaseDir, "base-dir", "",
		"Local directory that holds the synced documents")

	// Setup the commands for querying the contents of the config.
	type getterSpec struct {
		use, short string
		fn         func(config.Config) string
	}

	getters := []getterSpec{
		{
			use:   "get-host",
			short: "Get the address of the tablet",
			fn:    func(cfg config.Config) string { return cfg.Host },
		},
		{
			use:   "get-base-dir",
			short: "Get the local directory that holds the synced documents",
			fn:    func(cfg config.Config) string { return cfg.BaseDir },
		},
		{
			use:   "get-organized-dir",
			short: "Get the directory that documents are organized into",
			fn:    func(cfg config.Config) string { return cfg.OrganizedDir() },
		},
	}
	for _, getter := range getters {
		getter := getter
		cmd.AddCommand(&cobra.Command{
			Use:   getter.use,
			Short: getter.short,
			Run: func(_ *cobra.Command, _ []string) {
				cfg, err := loadConfig()
				if err != nil {
					util.HandleFatalError(err)
				}

				fmt.Fprintln(stdout, getter.fn(cfg))
			},
		})
	}

	return cmd
}

// SetupConfig prompts for the config values that weren't set in `cliOpts`,
// and writes the result.
func SetupConfig(cliOpts config.Config) error {
	cfg, err := generateConfig(cliOpts)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	path := util.ConfigPath
	if path == "" {
		path, err = config.GetUserConfigPath()
		if err != nil {
			return errors.WithContext(err, "get config path")
		}
	}

	if err := writeConfig(path, cfg); err != nil {
		return errors.WithContext(err, "write config")
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	return nil
}

type prompt struct {
	helpString, prompt, defaultAnswer, currAnswer string
	field                                         *string
}

// generateConfig interacts with the user to decide what the user's desired
// configuration is.
func generateConfig(cliOpts config.Config) (config.Config, error) {
	currConfig, err := loadConfig()
	if err != nil {
		log.WithError(err).Debug("Failed to read current config")
		currConfig = config.Default()
	}

	cfg := currConfig
	p := newPrompter()

	prompts := []prompt{
		{
			helpString: "Enter the address of the tablet.\n" +
				"Over USB, the tablet is always reachable at " + config.DefaultHost + ".",
			prompt:        "Tablet address",
			defaultAnswer: config.DefaultHost,
			currAnswer:    currConfig.Host,
			field:         &cfg.Host,
		},
		{
			helpString:    "Enter the SSH user. The tablet only has the root user.",
			prompt:        "SSH user",
			defaultAnswer: config.DefaultUser,
			currAnswer:    currConfig.User,
			field:         &cfg.User,
		},
		{
			helpString: "Enter the directory where tabletsync should store the documents.\n" +
				"The raw copy and the organized folders are created inside it.",
			prompt:        "Base directory",
			defaultAnswer: config.DefaultBaseDir,
			currAnswer:    currConfig.BaseDir,
			field:         &cfg.BaseDir,
		},
	}

	overrides := map[*string]string{
		&cfg.Host:    cliOpts.Host,
		&cfg.User:    cliOpts.User,
		&cfg.BaseDir: cliOpts.BaseDir,
	}
	for _, prompt := range prompts {
		if override := overrides[prompt.field]; override != "" {
			*prompt.field = override
			continue
		}

		resp, err := p.promptUser(prompt.helpString, prompt.prompt,
			prompt.defaultAnswer, prompt.currAnswer)
		if err != nil {
			return config.Config{}, errors.WithContext(err, "read response")
		}
		*prompt.field = resp
	}

	if cliOpts.KeyPath != "" {
		cfg.KeyPath = cliOpts.KeyPath
		cfg.Password = ""
		return cfg, nil
	}

	fmt.Fprintln(stdout, "Enter the SSH password shown on the tablet under\n"+
		"Settings > Help > Copyrights and licenses.\n"+
		"Leave it empty to use an SSH key instead.")
	fmt.Fprint(stdout, "Password: ")
	password, err := readPassword(p.reader)
	fmt.Fprintln(stdout)
	if err != nil {
		return config.Config{}, errors.WithContext(err, "read password")
	}

	if password != "" {
		cfg.Password = password
		cfg.KeyPath = ""
		return cfg, nil
	}

	cfg.Password = ""
	cfg.KeyPath, err = p.promptUser("Enter the path to the SSH private key.", "SSH key",
		config.DefaultKeyPath, currConfig.KeyPath)
	if err != nil {
		return config.Config{}, errors.WithContext(err, "read response")
	}
	return cfg, nil
}

// readPasswordImpl reads without echoing if stdin is a terminal.
func readPasswordImpl(reader *bufio.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		return string(password), err
	}

	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

type prompter struct {
	reader *bufio.Reader
}

func newPrompter() prompter {
	return prompter{bufio.NewReader(stdin)}
}

func (p prompter) readLine() (string, error) {
	line, err := p.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// promptUser offers the default and current answers as numbered choices, and
// falls back to reading the answer directly.
func (p prompter) promptUser(helpString, prompt, defaultAnswer, currAnswer string) (string, error) {
	// Separate the fields with a blank line.
	defer fmt.Fprintln(stdout)

	var options []string
	if defaultAnswer != "" {
		options = append(options, defaultAnswer)
	}
	if currAnswer != "" && currAnswer != defaultAnswer {
		options = append(options, currAnswer)
	}
	options = append(options, "(Enter manually)")

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	if nOptions := len(options); nOptions > 1 {
		fmt.Fprintln(stdout)
		for i, option := range options {
			if i == 0 {
				option = fmt.Sprintf("%s (recommended)", option)
			}
			fmt.Fprintf(stdout, "\t%d. %s\n", i+1, option)
		}
		fmt.Fprintln(stdout)

		for {
			fmt.Fprintf(stdout, "Please choose one [1-%d]: ", nOptions)
			choiceStr, err := p.readLine()
			if err != nil {
				return "", err
			}

			// Default to the first choice if the user doesn't enter anything.
			choice := 1
			if choiceStr != "" {
				choice, err = strconv.Atoi(choiceStr)
				if err != nil || choice < 1 || choice > nOptions {
					continue
				}
			}

			if choice != nOptions {
				return options[choice-1], nil
			}
			break
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	return p.readLine()
}
