package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/authcode-flow/internal/business"
	"github.com/openkcm/authcode-flow/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"api-server",
		"Authorization Code Flow API server",
		"Serves the login, callback, logout and profile endpoints of the web client.",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
