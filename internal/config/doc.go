// Package config loads the SonicPilot configuration from YAML or JSON files,
// applies defaults and validates driver combinations for the session store,
// token store and outcome publisher.
package config
