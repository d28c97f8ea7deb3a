package ir

// BindingVersion is the realm binding version reported by the CLI.
const BindingVersion = "0.1.0"
