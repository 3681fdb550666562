package trace

// TraceVersion is the serialized trace format version.
const TraceVersion = "1"
