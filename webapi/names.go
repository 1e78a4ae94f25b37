package webapi

import (
	"strings"

	"github.com/medcat/steam-mist/utils"
)

// InterfaceAPIName turns an interface name into the form the Web API uses.
// Names starting with "I" are taken as is; anything else is converted from
// snake_case and prefixed with "I", so "steam_user" becomes "ISteamUser".
func InterfaceAPIName(name string) string {
	if strings.HasPrefix(name, "I") {
		return name
	}

	return "I" + utils.SnakeToCamel(name)
}

// MethodAPIName turns a method name into the form the Web API uses. Names
// starting with an upper case ASCII letter are taken as is; anything else is
// converted from snake_case, so "get_player_summaries" becomes
// "GetPlayerSummaries".
func MethodAPIName(name string) string {
	if name != "" && name[0] >= 'A' && name[0] <= 'Z' {
		return name
	}

	return utils.SnakeToCamel(name)
}
