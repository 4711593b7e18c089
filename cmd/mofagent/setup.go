package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/joho/godotenv"

	"github.com/aristath/mofagent/internal/config"
)

// serviceOrder is the order compute services are asked for.
var serviceOrder = []string{
	config.ServiceConverter,
	config.ServiceMaceOpt,
	config.ServiceXTB,
	config.ServiceDFTB,
	config.ServiceZeo,
}

// setupAnswers holds the values collected by the config init form.
type setupAnswers struct {
	Provider string
	APIKey   string
	Services map[string]*string // Base URL per service name
}

func newSetupAnswers(cfg *config.Config) *setupAnswers {
	a := &setupAnswers{
		Provider: cfg.Planner.Provider,
		Services: make(map[string]*string, len(serviceOrder)),
	}
	for _, name := range serviceOrder {
		u := cfg.Services[name].BaseURL
		a.Services[name] = &u
	}
	return a
}

// apply copies the answers into cfg.
func (a *setupAnswers) apply(cfg *config.Config) {
	if a.Provider != "" {
		cfg.Planner.Provider = a.Provider
	}
	for name, u := range a.Services {
		v := strings.TrimSpace(*u)
		if v == "" {
			continue
		}
		svc := cfg.Services[name]
		svc.BaseURL = v
		cfg.Services[name] = svc
	}
}

// setupForm builds the interactive form for cfg, bound to a.
func setupForm(cfg *config.Config, a *setupAnswers) *huh.Form {
	names := make([]string, 0, len(cfg.Planner.Providers))
	for name := range cfg.Planner.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	options := make([]huh.Option[string], 0, len(names))
	for _, name := range names {
		p := cfg.Planner.Providers[name]
		options = append(options, huh.NewOption(fmt.Sprintf("%s (%s)", name, p.Model), name))
	}

	serviceInputs := make([]huh.Field, 0, len(serviceOrder))
	for _, name := range serviceOrder {
		serviceInputs = append(serviceInputs, huh.NewInput().
			Key(name).
			Title(name+" service").
			Value(a.Services[name]).
			Placeholder(cfg.Services[name].BaseURL).
			Validate(validateBaseURL))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("provider").
				Title("Planning provider").
				Options(options...).
				Value(&a.Provider),

			huh.NewInput().
				Key("apiKey").
				Title("API key").
				Description("Stored in the .env file, never in the config file. Leave empty to keep the current one.").
				EchoMode(huh.EchoModePassword).
				Value(&a.APIKey),
		).Title("Planner"),

		huh.NewGroup(serviceInputs...).Title("Compute services"),
	)
}

// validateBaseURL accepts an empty value (keep the default) or an absolute
// http(s) URL.
func validateBaseURL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("expected an http(s) URL")
	}
	return nil
}

// runSetupForm asks the user for the answers on the terminal.
func runSetupForm(ctx context.Context, cfg *config.Config, a *setupAnswers) error {
	return setupForm(cfg, a).RunWithContext(ctx)
}

// saveAPIKey sets <PROVIDER>_API_KEY in the env file at path, keeping the
// variables already there.
func saveAPIKey(path, provider, key string) error {
	env, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		env = map[string]string{}
	} else if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	env[provider+"_API_KEY"] = key
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Chmod(path, 0600)
}
