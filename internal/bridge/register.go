package bridge

import "github.com/petrijr/stagehand/internal/registry"

func init() {
	registry.MustRegister("socket_client", newClientStage)
	registry.MustRegister("socket_server", newServerStage)
}
