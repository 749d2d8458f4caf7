package main

// @title           Integrations Core API
// @version         1.0
// @description     Connects a user's SaaS accounts over OAuth, keeps their tokens fresh and serves normalized business metrics.

// @contact.name   Custodia Labs
// @contact.url    https://github.com/custodia-labs/integrations-core/issues

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Session JWT. Format: "Bearer {token}". Browser flows may send the session cookie instead.

import (
	"os"

	_ "github.com/custodia-labs/integrations-core/docs"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
