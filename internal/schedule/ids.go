package schedule

// Job ids are the plain order-sensitive concatenation of (user, intent,
// qualifier). This matches the established wire contract: stored ids are
// shared with the upstream assistant, so the encoding cannot change
// unilaterally. Callers own delimiter discipline — the three components
// must not be chosen so that two different tuples concatenate equally.

// reminderTag suffixes the derived id of an appointment's 24-hour-prior
// reminder job. The "#" cannot appear in user ids or intent names, so a
// reminder id can never collide with a base id.
const reminderTag = "#rem24"

// BaseID derives the stable job id for a (user, intent, qualifier) tuple.
func BaseID(user, intent, qualifier string) string {
	return user + intent + qualifier
}

// ReminderID derives the id of the paired 24-hour-prior reminder job.
func ReminderID(base string) string {
	return base + reminderTag
}

// AppointmentSlotIDs returns the fixed pair of slot ids an appointment
// occupies: the main event and its reminder, in that order.
func AppointmentSlotIDs(base string) [2]string {
	return [2]string{base, ReminderID(base)}
}
