package housekeeper

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/authcode-flow/internal/business"
	"github.com/openkcm/authcode-flow/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"housekeeper",
		"Authorization Code Flow housekeeping job",
		"Purges expired flow states and sessions from stores that do not expire them natively.",
		buildInfo,
		cmdutils.RunAsService,
		business.HousekeeperMain,
	)
}
