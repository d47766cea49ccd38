package doctor

// groupDefinition describes a check group.
type groupDefinition struct {
	Name        string
	Description string
	CheckIDs    []string
}

var groupDefinitions = map[string]groupDefinition{
	GroupProvisioning: {
		Name:        "Provisioning",
		Description: "Tools used to configure the builder instance",
		CheckIDs:    []string{IDAnsiblePlaybook, IDAnsibleGalaxy, IDSSH},
	},
	GroupAWS: {
		Name:        "AWS",
		Description: "Credentials used to launch instances and register images",
		CheckIDs:    []string{IDAWSCredentials, IDAWSIdentity},
	},
}

// GetGroups returns all check groups in display order, without results.
func GetGroups() []CheckGroup {
	var groups []CheckGroup
	for _, id := range GetAllGroupIDs() {
		def := groupDefinitions[id]
		groups = append(groups, CheckGroup{
			ID:          id,
			Name:        def.Name,
			Description: def.Description,
		})
	}
	return groups
}

// GetGroupDefinition returns the definition for a specific group.
func GetGroupDefinition(groupID string) (groupDefinition, bool) {
	def, ok := groupDefinitions[groupID]
	return def, ok
}

// GetAllGroupIDs returns all group IDs.
func GetAllGroupIDs() []string {
	return []string{GroupProvisioning, GroupAWS}
}
