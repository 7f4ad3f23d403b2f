package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/cargomart/cargomart-go/internal/daemon"
	"github.com/cargomart/cargomart-go/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	userFlag := flag.String("user", "", "marketplace user ID this profile belongs to")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	selfID := *userFlag
	if selfID == "" {
		selfID = name
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name, SelfID: selfID}),
	)

	app.Run()
}
