package ssm

// magic dispatches into the syscall catalog. The catalog is wire-
// reserved but not implemented: every entry faults until its
// implementation lands, so a program reaching one dies loudly instead
// of computing with a guessed semantics.
func (vm *VM) magic(id Magic) {
	fatalf("unimplemented magic %d", id)
}
