package cmd

import (
	_ "portpilot/cmd/host"
	_ "portpilot/cmd/root"
	_ "portpilot/cmd/server"
	_ "portpilot/cmd/tunnel"
)
