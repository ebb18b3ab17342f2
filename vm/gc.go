package vm

// Mark-and-sweep collection. A pass seeds the gray worklist from every
// registered root source, traces until the worklist drains, drops dead
// entries from the weak intern set, then sweeps the intrusive object list.
// The mutator is quiesced for the whole pass; mark bits are all false again
// when it returns.

// Collect runs one full mark-sweep pass.
func (h *Heap) Collect() {
	before := h.bytesAllocated

	h.markRoots()
	h.traceReferences()

	// The intern set holds the only non-owning reference that would keep
	// dead strings alive. Unmarked keys go before the sweep frees them.
	h.strings.RemoveUnmarked()

	freed := h.sweep()

	h.nextGC = h.bytesAllocated * 2
	if h.nextGC < h.config.InitialGCThreshold {
		h.nextGC = h.config.InitialGCThreshold
	}

	if h.config.TraceGC {
		log.Debugf("gc: freed %d objects, %d bytes (%d -> %d), next at %d",
			freed, before-h.bytesAllocated, before, h.bytesAllocated, h.nextGC)
	}
}

// markRoots seeds the worklist from every registered root source.
func (h *Heap) markRoots() {
	for _, rs := range h.roots {
		rs.MarkRoots(h)
	}
}

// MarkValue grays the object behind v, if any.
func (h *Heap) MarkValue(v Value) {
	if v.IsObject() {
		h.MarkObject(v.ObjectPtr())
	}
}

// MarkObject grays o. Already-marked objects are skipped, which is what
// breaks reference cycles.
func (h *Heap) MarkObject(o *Obj) {
	if o == nil || o.Marked {
		return
	}
	o.Marked = true
	h.gray = append(h.gray, o)
}

// traceReferences drains the gray worklist, marking everything reachable
// from each popped object.
func (h *Heap) traceReferences() {
	for len(h.gray) > 0 {
		o := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		h.blacken(o)
	}
}

// blacken marks every reference leaving o. Strings and natives have none.
func (h *Heap) blacken(o *Obj) {
	switch o.Type {
	case ObjTypeString, ObjTypeNative:
		// No outgoing references.

	case ObjTypeUpvalue:
		h.MarkValue(o.AsUpvalue().Closed)

	case ObjTypeFunction:
		fn := o.AsFunction()
		if fn.Name != nil {
			h.MarkObject(&fn.Name.Obj)
		}
		for _, constant := range fn.Chunk.Constants {
			h.MarkValue(constant)
		}

	case ObjTypeClosure:
		closure := o.AsClosure()
		h.MarkObject(&closure.Function.Obj)
		for _, uv := range closure.Upvalues {
			if uv != nil {
				h.MarkObject(&uv.Obj)
			}
		}

	case ObjTypeClass:
		class := o.AsClass()
		h.MarkObject(&class.Name.Obj)
		class.Methods.Mark(h)

	case ObjTypeInstance:
		instance := o.AsInstance()
		h.MarkObject(&instance.Class.Obj)
		instance.Fields.Mark(h)

	case ObjTypeBoundMethod:
		bound := o.AsBoundMethod()
		h.MarkValue(bound.Receiver)
		h.MarkObject(&bound.Method.Obj)
	}
}

// sweep walks the object list, keeping marked objects (clearing their bits)
// and unlinking the rest. Returns the number of objects freed.
func (h *Heap) sweep() int {
	freed := 0
	var previous *Obj
	object := h.objects
	for object != nil {
		if object.Marked {
			object.Marked = false
			previous = object
			object = object.Next
			continue
		}

		unreached := object
		object = object.Next
		if previous != nil {
			previous.Next = object
		} else {
			h.objects = object
		}
		unreached.Next = nil
		h.bytesAllocated -= unreached.size
		freed++
	}
	return freed
}
