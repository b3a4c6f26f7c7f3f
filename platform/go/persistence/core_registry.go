package persistence

// CoreRegistry registers every persisted entity of the application.
func CoreRegistry() *Registry {
	return MustRegistry(
		Describe[User](),
		Describe[Contact](),
		Describe[Interaction](),
		Describe[RapportTactic](),
		Describe[InteractionTacticLog](),
	)
}
