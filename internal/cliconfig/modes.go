package cliconfig

import (
	"github.com/bft-labs/mgrkit/plugins/configwatcher"
)

// LoadModes reads only the dispatch settings of the config file at path.
// It is the reload function of the config watcher; settings other than
// dispatch modes take effect on restart.
func LoadModes(path string) (configwatcher.Modes, error) {
	fc, err := LoadFileConfig(path)
	if err != nil {
		return configwatcher.Modes{}, err
	}

	cfg := DefaultConfig()
	if err := ApplyFileConfig(&cfg, fc, nil); err != nil {
		return configwatcher.Modes{}, err
	}
	def, overrides, err := cfg.DispatchModes()
	if err != nil {
		return configwatcher.Modes{}, err
	}
	return configwatcher.Modes{Default: def, Managers: overrides}, nil
}
