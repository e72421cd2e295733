package commands

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sapautomation/sdaf-setup/internal/config"
	"github.com/sapautomation/sdaf-setup/internal/constants"
	"github.com/sapautomation/sdaf-setup/internal/models"
	"github.com/sapautomation/sdaf-setup/internal/validate"
	"github.com/urfave/cli/v2"
)

const appDescription = "Used to create environments, update and create secrets and variables for your SAP on Azure Setup"

// appPermissions are the repository permissions the GitHub App requests, in manifest order
var appPermissions = []string{
	"actions=read",
	"administration=write",
	"contents=write",
	"environments=write",
	"issues=write",
	"secrets=write",
	"actions_variables=write",
	"workflows=write",
}

// AppName is the GitHub App name derived from the repository owner
func AppName(repo string) string {
	return models.SetupInput{RepositoryName: repo}.Owner() + "-sap-on-azure"
}

// AppCreationURL returns the prefilled GitHub App registration page for repo
func AppCreationURL(serverURL, repo string) string {
	serverURL = strings.TrimRight(serverURL, "/")

	query := []string{
		"name=" + url.QueryEscape(AppName(repo)),
		"description=" + strings.ReplaceAll(appDescription, " ", "%20"),
		"callback=false",
		"request_oauth_on_install=false",
		"public=true",
	}
	query = append(query, appPermissions...)
	query = append(query,
		"webhook_active=false",
		"url="+serverURL+"/"+repo,
	)

	return serverURL + "/settings/apps/new?" + strings.Join(query, "&")
}

// InstallationURL returns the page where the app is installed on repositories
func InstallationURL(serverURL, appName string) string {
	return strings.TrimRight(serverURL, "/") + "/settings/apps/" + appName + "/installations"
}

// AppURLCommand returns the app-url command that prints the GitHub App registration links
func AppURLCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "app-url",
		Usage: "Print the links for creating and installing the GitHub App",
		Description: `The deployment workflows authenticate as a GitHub App. Open the first link to register
the app with the required permissions, generate a private key, then install it on the
repository with the second link. Pass the app id and key to setup afterwards.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "repo",
				Aliases: []string{"r"},
				Usage:   "Repository in format 'owner/repo'; defaults to the saved repository",
				EnvVars: []string{"SDAF_REPOSITORY"},
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "GitHub server url; defaults to the saved server url",
				EnvVars: []string{"SDAF_SERVER_URL"},
			},
		},
		Action: appURLAction,
	}
}

func appURLAction(c *cli.Context) error {
	repo := c.String("repo")
	serverURL := c.String("server-url")

	if repo == "" || serverURL == "" {
		store, err := openStore(c)
		if err != nil {
			return err
		}
		stored := store.Configuration()
		if repo == "" {
			repo = stored[config.KeyRepositoryName]
		}
		if serverURL == "" {
			serverURL = stored[config.KeyServerURL]
		}
	}
	if serverURL == "" {
		serverURL = constants.DefaultServerURL
	}

	if err := validate.RepoName(repo); err != nil {
		return err
	}
	if err := validate.ServerURL(serverURL); err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "1. Create the GitHub App:\n   %s\n\n", AppCreationURL(serverURL, repo))
	fmt.Fprintf(w, "2. Generate a private key on the app's page and note the App ID.\n\n")
	fmt.Fprintf(w, "3. Install the app on %s:\n   %s\n", repo, InstallationURL(serverURL, AppName(repo)))
	return nil
}
