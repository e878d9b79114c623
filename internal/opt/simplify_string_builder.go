package opt

import (
	"bytec/internal/analysis"
	"bytec/internal/ir"
)

// SimplifyStringBuilder removes StringBuilder cascades the frontend emits
// for string concatenation: a builder used only for its toString collapses
// onto its input, short append chains become nested concat intrinsics, and
// an accumulator loop gets its builder and toString hoisted out of the
// loop. The pass stays away from functions with try-catch or OSR entries.
type SimplifyStringBuilder struct{}

func (s *SimplifyStringBuilder) Name() string { return "SimplifyStringBuilder" }

func (s *SimplifyStringBuilder) Description() string {
	return "Collapses StringBuilder concatenation patterns and hoists accumulator loops"
}

func (s *SimplifyStringBuilder) Apply(g *ir.Graph) bool {
	if g.HasTryCatch() || g.HasOsrEntries() || g.OsrMode {
		return false
	}
	run := &sbRun{g: g, bridges: analysis.NewSaveStateBridges(g)}
	changed := false
	// Accumulator loops first: a body-local concatenation rewrite would
	// otherwise consume the pattern the hoisting looks for.
	for _, loop := range g.LoopAnalysis().InnerLoops() {
		changed = run.optimizeLoop(loop) || changed
	}
	for _, b := range g.BlocksRPO() {
		changed = run.optimizeToString(b) || changed
		changed = run.optimizeConcatenation(b) || changed
	}
	return changed
}

type sbRun struct {
	g       *ir.Graph
	bridges *analysis.SaveStateBridges
}

func isIntrinsic(i *ir.Inst, id ir.IntrinsicID) bool {
	return i.Opcode() == ir.OpIntrinsic && i.IntrinsicID() == id
}

func isCtor(i *ir.Inst) bool {
	return isIntrinsic(i, ir.IntrinsicStringBuilderCtor) || isIntrinsic(i, ir.IntrinsicStringBuilderCtorString)
}

// instanceUses splits the users of a builder instance by role.
type instanceUses struct {
	ctor      *ir.Inst
	appends   []*ir.Inst
	toStrings []*ir.Inst
	other     []*ir.Inst
}

func collectInstanceUses(instance *ir.Inst) instanceUses {
	var u instanceUses
	seen := map[*ir.Inst]bool{}
	for _, user := range instance.Users() {
		if seen[user] {
			continue
		}
		seen[user] = true
		switch {
		case user.IsSaveState():
		case isCtor(user) && user.Input(0) == instance:
			u.ctor = user
		case isIntrinsic(user, ir.IntrinsicStringBuilderAppendString) && user.Input(0) == instance:
			u.appends = append(u.appends, user)
		case isIntrinsic(user, ir.IntrinsicStringBuilderToString) && user.Input(0) == instance:
			u.toStrings = append(u.toStrings, user)
		default:
			u.other = append(u.other, user)
		}
	}
	return u
}

// removeInstance detaches a builder instance after its uses were rewritten:
// it is dropped from SaveStates and unlinked.
func (r *sbRun) removeInstance(instance *ir.Inst) {
	r.bridges.RemoveFromSaveStates(instance)
	if instance.Block() != nil {
		instance.Block().RemoveInst(instance)
	}
}

// optimizeToString removes builders constructed from a string and read back
// verbatim: every toString over StringBuilder(s) with no appends is s.
func (r *sbRun) optimizeToString(b *ir.BasicBlock) bool {
	changed := false
	for _, ctor := range b.Insts() {
		if !isIntrinsic(ctor, ir.IntrinsicStringBuilderCtorString) {
			continue
		}
		instance := ctor.Input(0)
		if instance.Opcode() != ir.OpNewObject {
			continue
		}
		uses := collectInstanceUses(instance)
		if len(uses.appends) > 0 || len(uses.other) > 0 || len(uses.toStrings) == 0 {
			continue
		}
		arg := ctor.Input(1)
		for _, ts := range uses.toStrings {
			ts.ReplaceUsers(arg)
			ts.Block().RemoveInst(ts)
		}
		ctor.ReplaceUsers(instance)
		ctor.Block().RemoveInst(ctor)
		r.removeInstance(instance)
		changed = true
	}
	return changed
}

// cloneSaveState duplicates a SaveState with its inputs and registers.
func (r *sbRun) cloneSaveState(ss *ir.Inst) *ir.Inst {
	c := ss.Clone(r.g)
	for n, in := range ss.Inputs() {
		c.AppendVRegInput(in, ss.VRegs()[n])
	}
	return c
}

func (r *sbRun) newConcat(lhs, rhs, ssTemplate *ir.Inst, before *ir.Inst) *ir.Inst {
	ss := r.cloneSaveState(ssTemplate)
	before.InsertBefore(ss)
	concat := r.g.NewInstWithInputs(ir.OpIntrinsic, ir.TypeRef, lhs, rhs, ss)
	concat.SetIntrinsicID(ir.IntrinsicStringConcat)
	concat.SetTypeID("std.core.String.concat:(std.core.String,std.core.String)")
	before.InsertBefore(concat)
	r.bridges.FixSaveStatesInBB(before.Block())
	return concat
}

// optimizeConcatenation rewrites builder chains of up to four operands that
// end in a single toString into nested concat intrinsics.
func (r *sbRun) optimizeConcatenation(b *ir.BasicBlock) bool {
	changed := false
	for _, ctor := range b.Insts() {
		if !isCtor(ctor) {
			continue
		}
		instance := ctor.Input(0)
		if instance.Opcode() != ir.OpNewObject || instance.Block() != b {
			continue
		}
		uses := collectInstanceUses(instance)
		if len(uses.other) > 0 || len(uses.toStrings) != 1 {
			continue
		}
		ts := uses.toStrings[0]
		if ts.Block() != b {
			continue
		}

		var args []*ir.Inst
		if isIntrinsic(ctor, ir.IntrinsicStringBuilderCtorString) {
			args = append(args, ctor.Input(1))
		}
		// appends must be in list order within the block
		appends := uses.appends
		orderedAppends(appends)
		for _, ap := range appends {
			args = append(args, ap.Input(1))
		}
		if len(args) < 2 || len(args) > 4 {
			continue
		}

		var result *ir.Inst
		ssT := ts.SaveStateInput()
		switch len(args) {
		case 2:
			result = r.newConcat(args[0], args[1], ssT, ts)
		case 3:
			ab := r.newConcat(args[0], args[1], ssT, ts)
			result = r.newConcat(ab, args[2], ssT, ts)
		case 4:
			ab := r.newConcat(args[0], args[1], ssT, ts)
			cd := r.newConcat(args[2], args[3], ssT, ts)
			result = r.newConcat(ab, cd, ssT, ts)
		}

		ts.ReplaceUsers(result)
		ts.Block().RemoveInst(ts)
		for _, ap := range appends {
			ap.ReplaceUsers(instance)
			ap.Block().RemoveInst(ap)
		}
		ctor.ReplaceUsers(instance)
		ctor.Block().RemoveInst(ctor)
		r.removeInstance(instance)
		changed = true
	}
	return changed
}

// orderedAppends sorts appends by block position (insertion bubble, the
// chains are short).
func orderedAppends(appends []*ir.Inst) {
	for i := 0; i < len(appends); i++ {
		for j := i + 1; j < len(appends); j++ {
			if appends[j].Precedes(appends[i]) {
				appends[i], appends[j] = appends[j], appends[i]
			}
		}
	}
}

// loopAccumulator is the recognised shape: a header phi fed from the
// preheader with the initial string and from the back edge with the
// toString of an in-loop builder seeded from the phi.
type loopAccumulator struct {
	phi      *ir.Inst
	initial  *ir.Inst
	instance *ir.Inst
	ctor     *ir.Inst
	toString *ir.Inst
	appends  []*ir.Inst
}

func (r *sbRun) matchLoopAccumulator(loop *ir.Loop) *loopAccumulator {
	header := loop.Header
	for _, phi := range header.Phis() {
		if phi.InputsCount() != 2 || !phi.IsReferenceOrAny() {
			continue
		}
		preIdx := 0
		if loop.Contains(header.Pred(0)) {
			preIdx = 1
		}
		backIdx := 1 - preIdx
		initial := phi.Input(preIdx)
		ts := phi.Input(backIdx)
		if !isIntrinsic(ts, ir.IntrinsicStringBuilderToString) || !loop.Contains(ts.Block()) {
			continue
		}
		// The per-iteration result must feed the accumulator only.
		tsOK := true
		for _, u := range ts.Users() {
			if u != phi && !u.IsSaveState() {
				tsOK = false
				break
			}
		}
		if !tsOK {
			continue
		}
		instance := ts.Input(0)
		if instance.Opcode() != ir.OpNewObject || !loop.Contains(instance.Block()) {
			continue
		}
		uses := collectInstanceUses(instance)
		if uses.ctor == nil || len(uses.other) > 0 || len(uses.toStrings) != 1 {
			continue
		}
		// The builder must be seeded with the accumulated value each
		// iteration.
		if !isIntrinsic(uses.ctor, ir.IntrinsicStringBuilderCtorString) || uses.ctor.Input(1) != phi {
			continue
		}
		orderedAppends(uses.appends)
		// The appended pieces must be per-iteration deltas, and the
		// accumulator must have no other readers inside the loop.
		deltasOK := true
		for _, ap := range uses.appends {
			if ap.Input(1) == phi {
				deltasOK = false
				break
			}
		}
		if !deltasOK {
			continue
		}
		phiOK := true
		for _, u := range phi.Users() {
			if u == uses.ctor || u.IsSaveState() {
				continue
			}
			if loop.Contains(u.Block()) {
				phiOK = false
				break
			}
		}
		if !phiOK {
			continue
		}
		return &loopAccumulator{
			phi:      phi,
			initial:  initial,
			instance: instance,
			ctor:     uses.ctor,
			toString: ts,
			appends:  uses.appends,
		}
	}
	return nil
}

// optimizeLoop hoists the accumulator builder into the preheader and its
// toString into the post-exit block, so each iteration appends instead of
// re-building the whole string.
func (r *sbRun) optimizeLoop(loop *ir.Loop) bool {
	pre := loop.Preheader()
	post := loop.PostExit()
	if pre == nil || post == nil {
		return false
	}
	ssd := findSaveStateDeoptimize(pre)
	if ssd == nil {
		return false
	}
	acc := r.matchLoopAccumulator(loop)
	if acc == nil {
		return false
	}

	insertPre := func(i *ir.Inst) {
		if t := pre.Terminator(); t != nil {
			pre.InsertBefore(i, t)
		} else {
			pre.AppendInst(i)
		}
	}

	// Hoist the instance and its constructor, seeding from the initial
	// value instead of the accumulator phi.
	acc.instance.Block().RemoveInst(acc.instance)
	// RemoveInst dropped the SaveState edge; reattach to the preheader's.
	insertPre(acc.instance)
	acc.instance.AddInput(ssd)

	acc.ctor.Block().RemoveInst(acc.ctor)
	insertPre(acc.ctor)
	acc.ctor.AddInput(acc.instance)
	acc.ctor.AddInput(acc.initial)
	acc.ctor.AddInput(ssd)

	// The appends keep running inside the loop against the hoisted
	// instance; their safepoints must now carry it.
	for _, ap := range acc.appends {
		r.bridges.SearchAndCreateMissingObjInSaveState(acc.instance, ap)
	}

	// toString moves past the loop; in-loop safepoints no longer hold its
	// per-iteration value.
	r.bridges.RemoveFromSaveStates(acc.toString)
	acc.toString.Block().RemoveInst(acc.toString)
	postSS := r.g.NewInst(ir.OpSaveState, ir.TypeNone)
	postSS.AppendVRegInput(acc.instance, ir.BridgeVReg)
	if first := post.FirstInst(); first != nil {
		post.InsertBefore(postSS, first)
	} else {
		post.AppendInst(postSS)
	}
	postSS.InsertAfter(acc.toString)
	acc.toString.AddInput(acc.instance)
	acc.toString.AddInput(postSS)

	// The accumulator phi dissolves: external readers see the final
	// toString, the loop no longer rebuilds the string.
	r.bridges.RemoveFromSaveStates(acc.phi)
	acc.phi.ReplaceUsers(acc.toString)
	acc.phi.Block().RemovePhi(acc.phi)

	r.bridges.FixSaveStatesInBB(pre)
	r.bridges.FixSaveStatesInBB(post)
	return true
}
