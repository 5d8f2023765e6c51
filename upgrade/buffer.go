// SPDX-License-Identifier: ice License 1.0

package upgrade

func (b *buffer) append(msg any) {
	b.messages = append(b.messages, msg)
}

func (b *buffer) len() int {
	return len(b.messages)
}

// drain hands over every held message in arrival order. The buffer is empty afterwards.
func (b *buffer) drain() []any {
	messages := b.messages
	b.messages = nil

	return messages
}
