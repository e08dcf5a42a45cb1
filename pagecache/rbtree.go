package pagecache

// Intrusive red-black tree over *Entry, keyed by offset. This backs each
// file's index (§4.2). It is a textbook left-leaning-free CLRS-style
// red-black tree, adapted to operate directly on the treeLeft/treeRight/
// treeParent/treeColor fields embedded in Entry instead of a generic node
// type, so that no extra allocation is needed per indexed page.

// rbFind returns the entry at offset, or nil.
func rbFind(root *Entry, offset int64) *Entry {
	n := root
	for n != nil {
		switch {
		case offset < n.offset:
			n = n.treeLeft
		case offset > n.offset:
			n = n.treeRight
		default:
			return n
		}
	}
	return nil
}

// rbLowerBound returns the smallest entry with offset >= target, or nil.
func rbLowerBound(root *Entry, target int64) *Entry {
	n := root
	var best *Entry
	for n != nil {
		if n.offset >= target {
			best = n
			n = n.treeLeft
		} else {
			n = n.treeRight
		}
	}
	return best
}

// rbSuccessor returns the next entry in offset order after e, or nil.
func rbSuccessor(e *Entry) *Entry {
	if e.treeRight != nil {
		n := e.treeRight
		for n.treeLeft != nil {
			n = n.treeLeft
		}
		return n
	}
	n := e
	p := n.treeParent
	for p != nil && n == p.treeRight {
		n = p
		p = p.treeParent
	}
	return p
}

// rbMin returns the leftmost (smallest-offset) entry, or nil.
func rbMin(root *Entry) *Entry {
	n := root
	if n == nil {
		return nil
	}
	for n.treeLeft != nil {
		n = n.treeLeft
	}
	return n
}

func rbRotateLeft(root **Entry, x *Entry) {
	y := x.treeRight
	x.treeRight = y.treeLeft
	if y.treeLeft != nil {
		y.treeLeft.treeParent = x
	}
	y.treeParent = x.treeParent
	if x.treeParent == nil {
		*root = y
	} else if x == x.treeParent.treeLeft {
		x.treeParent.treeLeft = y
	} else {
		x.treeParent.treeRight = y
	}
	y.treeLeft = x
	x.treeParent = y
}

func rbRotateRight(root **Entry, x *Entry) {
	y := x.treeLeft
	x.treeLeft = y.treeRight
	if y.treeRight != nil {
		y.treeRight.treeParent = x
	}
	y.treeParent = x.treeParent
	if x.treeParent == nil {
		*root = y
	} else if x == x.treeParent.treeRight {
		x.treeParent.treeRight = y
	} else {
		x.treeParent.treeLeft = y
	}
	y.treeRight = x
	x.treeParent = y
}

// rbInsert inserts e (with e.offset already set) into the tree rooted at
// *root. Caller guarantees no existing entry has the same offset (the
// create_or_lookup race is resolved by the caller before this is reached,
// §4.2).
func rbInsert(root **Entry, e *Entry) {
	e.treeLeft, e.treeRight, e.treeParent = nil, nil, nil
	e.treeColor = rbRed
	e.inTree = true

	var parent *Entry
	n := *root
	for n != nil {
		parent = n
		if e.offset < n.offset {
			n = n.treeLeft
		} else {
			n = n.treeRight
		}
	}
	e.treeParent = parent
	if parent == nil {
		*root = e
	} else if e.offset < parent.offset {
		parent.treeLeft = e
	} else {
		parent.treeRight = e
	}
	rbInsertFixup(root, e)
}

func rbInsertFixup(root **Entry, z *Entry) {
	for z.treeParent != nil && z.treeParent.treeColor == rbRed {
		p := z.treeParent
		gp := p.treeParent
		if gp == nil {
			break
		}
		if p == gp.treeLeft {
			u := gp.treeRight
			if u != nil && u.treeColor == rbRed {
				p.treeColor = rbBlack
				u.treeColor = rbBlack
				gp.treeColor = rbRed
				z = gp
				continue
			}
			if z == p.treeRight {
				z = p
				rbRotateLeft(root, z)
				p = z.treeParent
				gp = p.treeParent
			}
			p.treeColor = rbBlack
			gp.treeColor = rbRed
			rbRotateRight(root, gp)
		} else {
			u := gp.treeLeft
			if u != nil && u.treeColor == rbRed {
				p.treeColor = rbBlack
				u.treeColor = rbBlack
				gp.treeColor = rbRed
				z = gp
				continue
			}
			if z == p.treeLeft {
				z = p
				rbRotateRight(root, z)
				p = z.treeParent
				gp = p.treeParent
			}
			p.treeColor = rbBlack
			gp.treeColor = rbRed
			rbRotateLeft(root, gp)
		}
	}
	(*root).treeColor = rbBlack
}

func rbTransplant(root **Entry, u, v *Entry) {
	if u.treeParent == nil {
		*root = v
	} else if u == u.treeParent.treeLeft {
		u.treeParent.treeLeft = v
	} else {
		u.treeParent.treeRight = v
	}
	if v != nil {
		v.treeParent = u.treeParent
	}
}

// rbDelete removes z from the tree rooted at *root and clears its tree
// pointers, per invariant 4: "removal from the tree nulls its tree parent
// pointer, and a detached entry is never returned by lookup".
func rbDelete(root **Entry, z *Entry) {
	y := z
	yOrigColor := y.treeColor
	var x, xParent *Entry

	if z.treeLeft == nil {
		x = z.treeRight
		xParent = z.treeParent
		rbTransplant(root, z, z.treeRight)
	} else if z.treeRight == nil {
		x = z.treeLeft
		xParent = z.treeParent
		rbTransplant(root, z, z.treeLeft)
	} else {
		y = rbMin(z.treeRight)
		yOrigColor = y.treeColor
		x = y.treeRight
		if y.treeParent == z {
			xParent = y
		} else {
			xParent = y.treeParent
			rbTransplant(root, y, y.treeRight)
			y.treeRight = z.treeRight
			y.treeRight.treeParent = y
		}
		rbTransplant(root, z, y)
		y.treeLeft = z.treeLeft
		y.treeLeft.treeParent = y
		y.treeColor = z.treeColor
	}

	if yOrigColor == rbBlack {
		rbDeleteFixup(root, x, xParent)
	}

	z.treeLeft, z.treeRight, z.treeParent = nil, nil, nil
	z.inTree = false
}

func rbDeleteFixup(root **Entry, x, parent *Entry) {
	for x != *root && isBlack(x) {
		if parent == nil {
			break
		}
		if x == parent.treeLeft {
			w := parent.treeRight
			if w != nil && w.treeColor == rbRed {
				w.treeColor = rbBlack
				parent.treeColor = rbRed
				rbRotateLeft(root, parent)
				w = parent.treeRight
			}
			if w == nil {
				x = parent
				parent = x.treeParent
				continue
			}
			if isBlack(w.treeLeft) && isBlack(w.treeRight) {
				w.treeColor = rbRed
				x = parent
				parent = x.treeParent
				continue
			}
			if isBlack(w.treeRight) {
				if w.treeLeft != nil {
					w.treeLeft.treeColor = rbBlack
				}
				w.treeColor = rbRed
				rbRotateRight(root, w)
				w = parent.treeRight
			}
			w.treeColor = parent.treeColor
			parent.treeColor = rbBlack
			if w.treeRight != nil {
				w.treeRight.treeColor = rbBlack
			}
			rbRotateLeft(root, parent)
			x = *root
			parent = nil
		} else {
			w := parent.treeLeft
			if w != nil && w.treeColor == rbRed {
				w.treeColor = rbBlack
				parent.treeColor = rbRed
				rbRotateRight(root, parent)
				w = parent.treeLeft
			}
			if w == nil {
				x = parent
				parent = x.treeParent
				continue
			}
			if isBlack(w.treeRight) && isBlack(w.treeLeft) {
				w.treeColor = rbRed
				x = parent
				parent = x.treeParent
				continue
			}
			if isBlack(w.treeLeft) {
				if w.treeRight != nil {
					w.treeRight.treeColor = rbBlack
				}
				w.treeColor = rbRed
				rbRotateLeft(root, w)
				w = parent.treeLeft
			}
			w.treeColor = parent.treeColor
			parent.treeColor = rbBlack
			if w.treeLeft != nil {
				w.treeLeft.treeColor = rbBlack
			}
			rbRotateRight(root, parent)
			x = *root
			parent = nil
		}
	}
	if x != nil {
		x.treeColor = rbBlack
	}
}

func isBlack(n *Entry) bool {
	return n == nil || n.treeColor == rbBlack
}
