package migrate

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/authcode-flow/internal/business"
	"github.com/openkcm/authcode-flow/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"Authorization Code Flow migrations",
		"Applies the schema of the PostgreSQL session store.",
		buildInfo,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
