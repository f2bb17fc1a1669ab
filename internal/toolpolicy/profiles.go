package toolpolicy

// ToolProfiles defines pre-configured tool sets for common use cases,
// keyed by profile name as used in configuration files.
var ToolProfiles = map[string]*Policy{
	"coding": {
		Profile: ProfileCoding,
		Allow:   []string{"group:fs", "group:runtime", "group:web", "group:memory"},
	},
	"messaging": {
		Profile: ProfileMessaging,
		Allow:   []string{"group:messaging", "status"},
	},
	"readonly": {
		Allow: []string{"read", "websearch", "webfetch", "memory_search", "job_status"},
	},
	"full": {
		Profile: ProfileFull,
	},
	"minimal": {
		Profile: ProfileMinimal,
		Allow:   []string{"status"},
	},
}

// GetProfilePolicy returns the policy for a named profile, or nil if unknown.
func GetProfilePolicy(name string) *Policy {
	return ToolProfiles[name]
}

// ListProfiles returns all available profile names.
func ListProfiles() []string {
	profiles := make([]string, 0, len(ToolProfiles))
	for name := range ToolProfiles {
		profiles = append(profiles, name)
	}
	return profiles
}

// ExpandGroups expands group references in a tool list against DefaultGroups,
// for callers that don't hold a Resolver instance.
func ExpandGroups(items []string) []string {
	var result []string
	seen := make(map[string]bool)
	for _, item := range items {
		if tools, ok := DefaultGroups[item]; ok {
			for _, tool := range tools {
				if !seen[tool] {
					seen[tool] = true
					result = append(result, tool)
				}
			}
			continue
		}
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}
	return result
}

// ListGroups returns all available group names.
func ListGroups() []string {
	groups := make([]string, 0, len(DefaultGroups))
	for name := range DefaultGroups {
		groups = append(groups, name)
	}
	return groups
}

// IsGroup returns true if the name is a valid group reference.
func IsGroup(name string) bool {
	_, ok := DefaultGroups[name]
	return ok
}

// GetGroupTools returns the tools in a group, or nil if the group doesn't exist.
func GetGroupTools(name string) []string {
	tools, ok := DefaultGroups[name]
	if !ok {
		return nil
	}
	result := make([]string, len(tools))
	copy(result, tools)
	return result
}
