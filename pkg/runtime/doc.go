/*
Package runtime wraps the Docker Engine API for lightd's container
lifecycle operations.

	┌─────────────────── DOCKER RUNTIME ────────────────────┐
	│                                                         │
	│  Docker client (github.com/docker/docker/client)       │
	│    - connects via socketPath or DOCKER_HOST             │
	│    - API version negotiated at connect time             │
	│                                                         │
	│  Image operations: EnsureImage (pull if absent)        │
	│  Network operations: EnsureNetwork (shared bridge),    │
	│    CreateContainerNetwork/RemoveContainerNetwork        │
	│    (per-container isolated bridge)                     │
	│  Container lifecycle: Create, Start, Stop, Kill,       │
	│    Restart, ForceRemove, Inspect, UpdateLimits          │
	│  Streaming: Logs (follow/tail/since), Attach            │
	│    (stdin+stdout+stderr), StatsOneShot, StatsStream     │
	│                                                         │
	└─────────────────────────────────────────────────────────┘

# Usage

	d, err := runtime.New(cfg.Docker.SocketPath)
	if err != nil {
		log.Fatal(err)
	}
	defer d.Close()

	if err := d.Ping(ctx); err != nil {
		log.Fatal(err)
	}
	if err := d.EnsureImage(ctx, "itzg/minecraft-server"); err != nil {
		log.Fatal(err)
	}
	id, err := d.Create(ctx, runtime.CreateSpec{
		Name:  runtime.ContainerName(internalID),
		Image: "itzg/minecraft-server",
	})
	err = d.Start(ctx, id)

# See Also

  - pkg/lifecycle for the install/reinstall/repair state machine built on
    this package
  - pkg/power for Start/Kill/Restart
  - pkg/netrebind for port rebinding
*/
package runtime
